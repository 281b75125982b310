package server

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/54b3r/kbrag-go/internal/pipeline"
)

type fakeHealthCheck struct{ err error }

func (f fakeHealthCheck) HealthCheck(context.Context) error { return f.err }

type fakeIndex struct {
	state pipeline.State
	err   error
}

func (f fakeIndex) Ping(context.Context) error { return f.err }
func (f fakeIndex) State() pipeline.State      { return f.state }

func TestNewLLMPinger_NilHealthCheck(t *testing.T) {
	t.Parallel()

	if p := NewLLMPinger(nil, "gemini"); p != nil {
		t.Errorf("want nil pinger for backend without a probe, got %+v", p)
	}
}

func TestLLMPinger(t *testing.T) {
	t.Parallel()

	p := NewLLMPinger(fakeHealthCheck{}, "ollama")
	if p.Name() != "ollama" {
		t.Errorf("name = %q", p.Name())
	}
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("healthy probe: %v", err)
	}

	p = NewLLMPinger(fakeHealthCheck{err: errors.New("HTTP 503")}, "ollama")
	err := p.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ollama health check failed") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestIndexPinger(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		index   fakeIndex
		wantErr string
	}{
		{"ready and reachable", fakeIndex{state: pipeline.Ready}, ""},
		{"not loaded", fakeIndex{state: pipeline.Uninitialized}, "pipeline is uninitialized"},
		{"store down", fakeIndex{state: pipeline.Ready, err: errors.New("database is closed")}, "database is closed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := NewIndexPinger(tc.index, "sqlite")
			if p.Name() != "index:sqlite" {
				t.Errorf("name = %q", p.Name())
			}
			err := p.Ping(context.Background())
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("want error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}
