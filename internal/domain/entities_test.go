package domain

import "testing"

func TestHeartbeatSampleValid(t *testing.T) {
	tests := []struct {
		name   string
		sample HeartbeatSample
		want   bool
	}{
		{name: "lower bound", sample: HeartbeatSample{UserID: "u1", BPM: 0}, want: true},
		{name: "upper bound", sample: HeartbeatSample{UserID: "u1", BPM: 220}, want: true},
		{name: "above range", sample: HeartbeatSample{UserID: "u1", BPM: 221}, want: false},
		{name: "negative", sample: HeartbeatSample{UserID: "u1", BPM: -1}, want: false},
		{name: "no user", sample: HeartbeatSample{BPM: 80}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sample.Valid(); got != tt.want {
				t.Fatalf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFollowerEdgeDeliverable(t *testing.T) {
	tests := []struct {
		name string
		edge FollowerEdge
		want bool
	}{
		{name: "enabled with token", edge: FollowerEdge{PushToken: "tok", NotificationEnabled: true}, want: true},
		{name: "disabled", edge: FollowerEdge{PushToken: "tok"}, want: false},
		{name: "empty token", edge: FollowerEdge{NotificationEnabled: true}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.edge.Deliverable(); got != tt.want {
				t.Fatalf("Deliverable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewHeartbeatPush(t *testing.T) {
	msg := NewHeartbeatPush("tok", HeartbeatSample{UserID: "u1", BPM: 72}, "Alice")
	if msg.Token != "tok" || msg.Title != "Alice" {
		t.Fatalf("неожиданные адресат или заголовок: %+v", msg)
	}
	if msg.Data["bpm"] != "72" || msg.Data["sender_id"] != "u1" || msg.Data["sender_name"] != "Alice" {
		t.Fatalf("неожиданные данные уведомления: %+v", msg.Data)
	}
}
