package sink

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"orderflow/internal/orderflow"
)

// AlertPublisher pushes alerts onto a NATS subject so downstream
// consumers (dashboards, notifiers) can react without polling the hub.
// Publishing is best effort: a broken connection drops alerts.
type AlertPublisher struct {
	nc      *nats.Conn
	subject string
	log     *slog.Logger
}

func NewAlertPublisher(url, subject string, logger *slog.Logger) (*AlertPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("orderflow-collector"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &AlertPublisher{nc: nc, subject: subject, log: logger}, nil
}

func (p *AlertPublisher) Publish(a orderflow.Alert) {
	data, err := json.Marshal(a)
	if err != nil {
		p.log.Warn("alert marshal failed", slog.String("err", err.Error()))
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		p.log.Warn("alert publish failed", slog.String("err", err.Error()))
	}
}

func (p *AlertPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
