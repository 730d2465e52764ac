package auth

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/oauth2"
)

type failingSource struct{ err error }

func (f failingSource) Token() (*oauth2.Token, error) { return nil, f.err }

func TestStaticToken(t *testing.T) {
	ctx := context.Background()

	got, err := StaticToken("abc").Token(ctx)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got != "abc" {
		t.Errorf("Token() = %q, want %q", got, "abc")
	}

	if _, err := StaticToken("").Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Errorf("empty StaticToken error = %v, want ErrNoToken", err)
	}
}

func TestTokenFunc(t *testing.T) {
	calls := 0
	supplier := TokenFunc(func(context.Context) (string, error) {
		calls++
		return "refreshed", nil
	})

	for i := 0; i < 2; i++ {
		if _, err := supplier.Token(context.Background()); err != nil {
			t.Fatalf("Token() error = %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestFromTokenSource(t *testing.T) {
	tests := []struct {
		name    string
		src     oauth2.TokenSource
		want    string
		wantErr bool
	}{
		{
			name: "static source",
			src:  oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-1"}),
			want: "tok-1",
		},
		{
			name:    "empty access token",
			src:     oauth2.StaticTokenSource(&oauth2.Token{}),
			wantErr: true,
		},
		{
			name:    "source failure",
			src:     failingSource{err: errors.New("boom")},
			wantErr: true,
		},
		{
			name:    "nil source",
			src:     nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromTokenSource(tt.src).Token(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Token() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Token() = %q, want %q", got, tt.want)
			}
		})
	}
}
