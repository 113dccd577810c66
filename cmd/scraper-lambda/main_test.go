package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"farmconnect/internal/market"
	"farmconnect/internal/scheduler"
)

type stubRunner struct {
	res   market.Result
	err   error
	calls int
}

func (s *stubRunner) RunOnce(context.Context) (market.Result, error) {
	s.calls++
	return s.res, s.err
}

func TestHandler(t *testing.T) {
	evt := events.CloudWatchEvent{ID: "evt-1", Time: time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)}

	tests := []struct {
		name    string
		runner  *stubRunner
		want    market.Result
		wantErr bool
	}{
		{
			name:   "success",
			runner: &stubRunner{res: market.Result{Found: 4, Inserted: 4}},
			want:   market.Result{Found: 4, Inserted: 4},
		},
		{
			name:   "lease held",
			runner: &stubRunner{err: scheduler.ErrLeaseHeld},
		},
		{
			name:    "cycle failed",
			runner:  &stubRunner{err: errors.New("price page returned 503")},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newHandler(tt.runner, nil)(context.Background(), evt)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if tt.runner.calls != 1 {
				t.Errorf("expected one cycle, got %d", tt.runner.calls)
			}
		})
	}
}
