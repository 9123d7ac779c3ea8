package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStubClientReplaysAndRecords(t *testing.T) {
	stub := (&StubClient{}).Reply(http.StatusOK, `{"a":1}`).Reply(http.StatusTeapot, "brew")

	for i, want := range []int{http.StatusOK, http.StatusTeapot, http.StatusTeapot} {
		req, _ := http.NewRequest(http.MethodPost, "http://oracle/predict", strings.NewReader("img"+string(rune('0'+i))))
		resp, err := stub.Do(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode != want {
			t.Errorf("request %d: status %d, want %d", i, resp.StatusCode, want)
		}
		resp.Body.Close()
	}
	if stub.Count() != 3 {
		t.Errorf("Count = %d, want 3", stub.Count())
	}
	if string(stub.Bodies[1]) != "img1" {
		t.Errorf("body 1 = %q", stub.Bodies[1])
	}
}

func TestStubClientFail(t *testing.T) {
	boom := errors.New("connection refused")
	stub := (&StubClient{}).Fail(boom)
	req, _ := http.NewRequest(http.MethodGet, "http://oracle/", nil)
	if _, err := stub.Do(req); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestStubClientDefaultsToEmptyOK(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://oracle/", nil)
	resp, err := (&StubClient{}).Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("Do = %v, %v", resp, err)
	}
	b, _ := io.ReadAll(resp.Body)
	if len(b) != 0 {
		t.Errorf("body = %q", b)
	}
}

func TestNewClient(t *testing.T) {
	if c := NewClient(3 * time.Second); c.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v", c.Timeout)
	}
	if c := NewClient(-1); c.Timeout != 0 {
		t.Errorf("negative timeout should disable, got %v", c.Timeout)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, "run not found")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "run not found" || body.Status != http.StatusNotFound {
		t.Errorf("body = %+v", body)
	}

	for _, tc := range []struct {
		write func(http.ResponseWriter)
		want  int
	}{
		{func(w http.ResponseWriter) { BadRequest(w, "bad") }, http.StatusBadRequest},
		{func(w http.ResponseWriter) { InternalError(w, "oops") }, http.StatusInternalServerError},
		{MethodNotAllowed, http.StatusMethodNotAllowed},
	} {
		rec := httptest.NewRecorder()
		tc.write(rec)
		if rec.Code != tc.want {
			t.Errorf("status = %d, want %d", rec.Code, tc.want)
		}
	}
}
