package hydrate

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type settings struct {
	Name    string         `json:"name"`
	Retries int            `json:"retries"`
	Tags    []string       `json:"tags"`
	Updated time.Time      `json:"updated"`
	Extra   map[string]any `json:"extra"`
}

func TestDecodeMapPayload(t *testing.T) {
	updated := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	payload := map[string]any{
		"name":    "primary",
		"retries": int64(3),
		"tags":    []any{"a", "b"},
		"updated": updated,
		"extra":   map[string]any{"ratio": 0.5},
	}

	got, err := NewDecoder[settings]().Decode(Context{Path: "settings.json"}, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "primary" || got.Retries != 3 || len(got.Tags) != 2 {
		t.Fatalf("unexpected result %+v", got)
	}
	if !got.Updated.Equal(updated) {
		t.Fatalf("expected time preserved, got %v", got.Updated)
	}
	if got.Extra["ratio"] != 0.5 {
		t.Fatalf("expected float extra, got %#v", got.Extra["ratio"])
	}
}

func TestDecodeSequencePayload(t *testing.T) {
	got, err := NewDecoder[[]settings]().Decode(Context{}, []any{
		map[string]any{"name": "a"},
		map[string]any{"name": "b"},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[1].Name != "b" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestDecodeDisallowUnknownFields(t *testing.T) {
	decoder := NewDecoder[settings](WithDisallowUnknownFields[settings]())
	_, err := decoder.Decode(Context{Path: "settings.yaml"}, map[string]any{"unknown": true})
	if err == nil || !strings.Contains(err.Error(), "settings.yaml") {
		t.Fatalf("expected unknown field error naming the path, got %v", err)
	}
}

func TestDecodeUseNumber(t *testing.T) {
	decoder := NewDecoder[settings](WithUseNumber[settings]())
	got, err := decoder.Decode(Context{}, map[string]any{"extra": map[string]any{"big": int64(9007199254740993)}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Extra["big"].(interface{ String() string }).String() != "9007199254740993" {
		t.Fatalf("expected exact number, got %#v", got.Extra["big"])
	}
}

func TestDecodeHooks(t *testing.T) {
	pre := func(_ Context, payload any) (any, error) {
		m := payload.(map[string]any)
		out := map[string]any{}
		for k, v := range m {
			out[strings.ToLower(k)] = v
		}
		return out, nil
	}
	post := func(_ Context, s *settings) error {
		if s.Retries == 0 {
			s.Retries = 5
		}
		return nil
	}
	decoder := NewDecoder[settings](WithPreHook[settings](pre), WithPostHook[settings](post))
	got, err := decoder.Decode(Context{}, map[string]any{"NAME": "x"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "x" || got.Retries != 5 {
		t.Fatalf("unexpected result %+v", got)
	}

	failing := NewDecoder[settings](WithPostHook[settings](func(Context, *settings) error {
		return errors.New("invalid")
	}))
	if _, err := failing.Decode(Context{Path: "p"}, map[string]any{}); err == nil || !strings.Contains(err.Error(), "post-hook for p failed") {
		t.Fatalf("expected post-hook failure, got %v", err)
	}
}
