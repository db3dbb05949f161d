package chat

type fanoutJob struct {
	sessions []*Session
	payload  []byte
}

// Fanout 本地投递的工作池：路由侧把会话列表+payload 丢进来，
// 工作协程往每条会话的发送队列塞。慢接收方直接跳过，不回压发送方。
type Fanout struct {
	jobs chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, s := range job.sessions {
					select {
					case s.Send <- job.payload:
					default:
						// 慢客户端：可计数/断开；这里选择跳过
					}
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Broadcast(sessions []*Session, payload []byte) {
	if len(sessions) == 0 || len(payload) == 0 {
		return
	}
	f.jobs <- fanoutJob{sessions: sessions, payload: payload}
}
