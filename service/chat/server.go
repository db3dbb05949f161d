package chat

// Server 网关实例：连接登记表 + 帧分发器。
// 路由/存储这些依赖在各 handler 里注入，Server 自己不持有。
type Server struct {
	gwID    string
	connMgr *ConnManager
	disp    *Dispatcher
}

func NewServer(gwID string, connMgr *ConnManager) *Server {
	return &Server{
		gwID:    gwID,
		connMgr: connMgr,
		disp:    NewDispatcher(),
	}
}

func (s *Server) GwID() string          { return s.gwID }
func (s *Server) ConnMgr() *ConnManager { return s.connMgr }
func (s *Server) Disp() *Dispatcher     { return s.disp }

func (s *Server) DispatchFrame(f *ClientFrame, conn *ConnState) error {
	return s.disp.Dispatch(&Context{S: s}, f, conn)
}
