package push

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/metrics"
)

// Route связывает префикс токена с транспортом.
type Route struct {
	Prefix    string
	Transport string
	Sender    domain.PushSender
}

// Router выбирает транспорт по префиксу токена и ограничивает общую скорость отправки.
type Router struct {
	routes   []Route
	fallback Route
	limiter  *rate.Limiter
}

var _ domain.PushSender = (*Router)(nil)

// NewRouter создаёт маршрутизатор. Токены без известного префикса уходят в fallback.
// rps <= 0 отключает ограничение.
func NewRouter(fallback Route, rps float64, routes ...Route) *Router {
	r := &Router{routes: routes, fallback: fallback}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return r
}

// Send ждёт разрешения ограничителя и отправляет сообщение подходящим транспортом.
func (r *Router) Send(ctx context.Context, msg domain.PushMessage) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ожидание лимита отправки: %w", err)
		}
	}
	route := r.route(msg.Token)
	if route.Sender == nil {
		return fmt.Errorf("транспорт %q не настроен", route.Transport)
	}
	msg.Token = strings.TrimPrefix(msg.Token, route.Prefix)
	err := route.Sender.Send(ctx, msg)
	metrics.ObservePush(route.Transport, err)
	return err
}

func (r *Router) route(token string) Route {
	for _, route := range r.routes {
		if route.Prefix != "" && strings.HasPrefix(token, route.Prefix) {
			return route
		}
	}
	return r.fallback
}
