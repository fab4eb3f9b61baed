package core

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"title", "title"},
		{"Ownership Type", "ownership_type"},
		{" Steam App-ID ", "steam_app_id"},
		{"Game  Title!!", "game_title"},
		{"ÉTAPE", "étape"},
		{"---", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeHeader(tt.input); got != tt.want {
				t.Errorf("NormalizeHeader(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Chrono Trigger", "chrono trigger"},
		{"Pokémon: Red Version", "pokemon red version"},
		{"  HADES   II ", "hades ii"},
		{"Dragon Quest III HD-2D Remake", "dragon quest iii hd 2d remake"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeTitle(tt.input); got != tt.want {
				t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestToken_RoundTrip(t *testing.T) {
	importID, itemID := uuid.New(), uuid.New()

	tok := EncodeToken(importID, itemID)
	gotImport, gotItem, err := DecodeToken(tok)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if gotImport != importID || gotItem != itemID {
		t.Errorf("DecodeToken = (%s, %s), want (%s, %s)", gotImport, gotItem, importID, itemID)
	}
}

func TestDecodeToken_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "not base64", token: "%%%"},
		{name: "too short", token: "AAAA"},
		{name: "nil ids", token: EncodeToken(uuid.Nil, uuid.Nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeToken(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("DecodeToken(%q) error = %v, want ErrInvalidToken", tt.token, err)
			}
		})
	}
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	id := uuid.New()

	ch, cancel := b.Subscribe(id)
	other, cancelOther := b.Subscribe(uuid.New())
	defer cancelOther()

	b.Publish(Event{Kind: EventItem, ImportID: id, RowIndex: 3})

	select {
	case e := <-ch:
		if e.RowIndex != 3 || e.At.IsZero() {
			t.Errorf("got event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case e := <-other:
		t.Errorf("unrelated subscriber received %+v", e)
	default:
	}

	// A full buffer drops events instead of blocking.
	for i := 0; i < 100; i++ {
		b.Publish(Event{Kind: EventItem, ImportID: id})
	}

	cancel()
	cancel()
	if n := b.Subscribers(id); n != 0 {
		t.Errorf("Subscribers = %d after cancel, want 0", n)
	}

	var nilB *Broadcaster
	nilB.Publish(Event{ImportID: id})
}
