package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	cases := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", DefaultLimit, 0},
		{"explicit", "limit=50&offset=10", 50, 10},
		{"clamped to max", "limit=5000", MaxLimit, 0},
		{"negative ignored", "limit=-3&offset=-7", DefaultLimit, 0},
		{"garbage ignored", "limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := paramsFor(t, tc.query)
			if p.Limit != tc.wantLimit || p.Offset != tc.wantOffset {
				t.Errorf("got limit=%d offset=%d, want limit=%d offset=%d",
					p.Limit, p.Offset, tc.wantLimit, tc.wantOffset)
			}
		})
	}
}

func TestResponseHasMore(t *testing.T) {
	r := NewResponse(nil, 45, 20, 0)
	if !r.HasMore {
		t.Error("expected has_more with 45 total at offset 0")
	}
	r = NewResponse(nil, 45, 20, 40)
	if r.HasMore {
		t.Error("expected no more past the final page")
	}
}

func TestNextOffset(t *testing.T) {
	p := Params{Limit: 20, Offset: 40}
	if !p.HasNext(100) {
		t.Error("expected next page")
	}
	if p.NextOffset() != 60 {
		t.Errorf("next offset = %d, want 60", p.NextOffset())
	}
	if p.HasNext(55) {
		t.Error("no next page when offset+limit >= total")
	}
}
