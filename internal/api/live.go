package rewards

import (
	"context"
	"net/http"
	"time"

	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait / 2
)

// последнее значение вытесняет неотправленное, push не блокируется
func latest[T any]() (chan T, func(T)) {
	ch := make(chan T, 1)
	return ch, func(v T) {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// отправка обновлений до закрытия соединения клиентом
func (h *RewardsHandler) stream(ctx context.Context, conn *websocket.Conn, updates <-chan any) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// дедлайн чтения от http.Server после hijack не сбрасывается
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// чтение нужно для обработки close/pong
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case v := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				h.logger.Debug("websocket write", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Статистика конкурса в реальном времени
func (h *RewardsHandler) ContestLiveHandler(w http.ResponseWriter, req *http.Request) {
	contestID := mux.Vars(req)["id"]
	accountID := req.URL.Query().Get("accountId")
	if _, err := h.svc.GetContest(req.Context(), contestID); err != nil {
		h.writeError(w, "ContestLiveHandler", err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.Log("Websocket upgrade", "ContestLiveHandler", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	updates, push := latest[any]()
	unsubscribe, err := h.svc.SubscribeStats(ctx, contestID, accountID, func(s model.ContestStats) { push(s) })
	if err != nil {
		h.Log("Subscribe stats", "ContestLiveHandler", err)
		return
	}
	defer unsubscribe()
	h.stream(ctx, conn, updates)
}

// Профиль счета в реальном времени
func (h *RewardsHandler) AccountLiveHandler(w http.ResponseWriter, req *http.Request) {
	account, err := h.svc.GetAccount(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		h.writeError(w, "AccountLiveHandler", err)
		return
	}
	session, err := h.svc.NewSession(req.Context(), account.ID, account.Email, account.DisplayName, model.Role(req.Header.Get(RoleHeader)))
	if err != nil {
		h.writeError(w, "AccountLiveHandler", err)
		return
	}
	defer session.Close()

	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.Log("Websocket upgrade", "AccountLiveHandler", err)
		return
	}
	defer conn.Close()

	updates, push := latest[any]()
	if _, err = session.Watch(func(a model.Account) { push(a) }); err != nil {
		h.Log("Watch profile", "AccountLiveHandler", err)
		return
	}
	push(session.Profile())
	h.stream(req.Context(), conn, updates)
}
