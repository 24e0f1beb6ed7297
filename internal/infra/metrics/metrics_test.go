package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegisterOnFreshRegistry(t *testing.T) {
	MustRegister(prometheus.NewRegistry())
}

func TestObserveNetworkRequestLabelsUnknown(t *testing.T) {
	before := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("unknown", "unknown", "unknown", "error"))
	ObserveNetworkRequest("", "", "", time.Now(), errors.New("fail"))
	after := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("unknown", "unknown", "unknown", "error"))
	if after != before+1 {
		t.Fatalf("ожидали рост счётчика на 1, было %v стало %v", before, after)
	}
}

func TestObservePushStatus(t *testing.T) {
	before := testutil.ToFloat64(PushSent.WithLabelValues("fcm", "failed"))
	ObservePush("fcm", errors.New("unregistered"))
	if got := testutil.ToFloat64(PushSent.WithLabelValues("fcm", "failed")); got != before+1 {
		t.Fatalf("ожидали учёт неудачной отправки")
	}
}
