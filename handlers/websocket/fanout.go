// Package websocket fans authoritative board snapshots out to connected
// clients over socket.io. Clients join the board room and receive the full
// object set on every committed revision; presence and cursor traffic is a
// separate ephemeral channel and does not belong here.
package websocket

import (
	"sync"

	"boardsync/core"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const boardRoom = socketio.Room("board")

// Server couples a socket.io server to an object store subscription.
type Server struct {
	io          *socketio.Server
	unsubscribe func()

	mu    sync.Mutex
	users int
}

// NewServer builds the fan-out server and subscribes it to the store.
func NewServer(store core.ObjectStore) *Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{io: socketio.NewServer(nil, opts)}

	s.io.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		me := socket.Id()

		socket.On("join-board", func(datas ...any) {
			socket.Join(boardRoom)
			logrus.WithField("socket", me).Debug("Socket joined board room")

			s.io.In(boardRoom).FetchSockets()(func(users []*socketio.RemoteSocket, _ error) {
				s.mu.Lock()
				s.users = len(users)
				s.mu.Unlock()

				if len(users) <= 1 {
					_ = s.io.To(socketio.Room(me)).Emit("first-on-board")
				} else {
					_ = socket.Broadcast().To(boardRoom).Emit("new-user", me)
				}

				userIDs := make([]socketio.SocketId, 0, len(users))
				for _, user := range users {
					userIDs = append(userIDs, user.Id())
				}
				_ = s.io.In(boardRoom).Emit("board-user-change", userIDs)
			})
		})

		socket.On("disconnecting", func(datas ...any) {
			s.io.In(boardRoom).FetchSockets()(func(users []*socketio.RemoteSocket, _ error) {
				others := make([]socketio.SocketId, 0, len(users))
				for _, user := range users {
					if user.Id() != me {
						others = append(others, user.Id())
					}
				}

				s.mu.Lock()
				s.users = len(others)
				s.mu.Unlock()

				if len(others) > 0 {
					_ = s.io.In(boardRoom).Emit("board-user-change", others)
				}
			})
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	s.unsubscribe = store.Subscribe(
		func(snapshot []core.Object) {
			_ = s.io.In(boardRoom).Emit("board-snapshot", snapshot)
		},
		func(err error) {
			logrus.WithError(err).Warn("Store subscription error")
			_ = s.io.In(boardRoom).Emit("board-sync-error", err.Error())
		},
	)

	return s
}

// IO exposes the underlying socket.io server for mounting on the router.
func (s *Server) IO() *socketio.Server {
	return s.io
}

// ActiveUsers returns the number of sockets currently on the board.
func (s *Server) ActiveUsers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users
}

// Close cancels the store subscription and shuts the socket server down.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.io.Close(nil)
}
