package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// activityWriteWait bounds every write to an activity socket.
	activityWriteWait = 10 * time.Second
	// activityPingPeriod keeps idle activity sockets open through proxies.
	activityPingPeriod = 30 * time.Second
)

var activityUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleActivity pushes watch activity to administrators over a websocket.
// Each message is one playback.Activity as JSON.
func (ms *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	if !ms.authService.IsSuperuser(username) {
		ms.respondWithError(w, r, http.StatusForbidden, "Only administrators can follow activity", errAccessDenied)
		return
	}

	// subscribe before the handshake completes so nothing opened afterwards is missed
	feed := ms.svc.Tracker.Activity()
	events := feed.Subscribe()
	defer feed.Unsubscribe(events)

	conn, err := activityUpgrader.Upgrade(w, r, nil)
	if err != nil {
		ms.logger.WithError(err).Debug("Activity upgrade failed")
		return
	}
	defer conn.Close()

	logger := ms.logger.WithField("user", username)
	logger.Debug("Activity socket opened")

	// the client never sends anything; reading notices when it goes away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(activityPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(activityWriteWait))
			return
		case <-closed:
			logger.Debug("Activity socket closed")
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(activityWriteWait)); err != nil {
				return
			}
		case a, ok := <-events:
			if !ok {
				logger.Warn("Activity socket fell behind, closing")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(activityWriteWait))
			if err := conn.WriteJSON(a); err != nil {
				logger.WithError(err).Debug("Activity write failed")
				return
			}
		}
	}
}
