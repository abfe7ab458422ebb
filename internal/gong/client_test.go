package gong

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestListCalls(t *testing.T) {
	var gotPath, gotAuth, gotKey, gotSig, gotTS string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("X-Gong-AccessKey")
		gotSig = r.Header.Get("X-Gong-Signature")
		gotTS = r.Header.Get("X-Gong-Timestamp")

		if r.URL.Query().Get("fromDateTime") == "" || r.URL.Query().Get("toDateTime") == "" {
			http.Error(w, "missing range", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"calls":[{"id":"123","title":"Kickoff","duration":1800}]}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, "ak", "sk")
	c.nowFn = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	page, errList := c.ListCalls(context.Background(), time.Now().Add(-24*time.Hour), time.Now())
	if errList != nil {
		t.Fatalf("ListCalls: %v", errList)
	}
	if len(page.Calls) != 1 || page.Calls[0].ID != "123" || page.Calls[0].Title != "Kickoff" {
		t.Fatalf("calls = %+v", page.Calls)
	}

	if gotPath != "/v2/calls" {
		t.Fatalf("path = %q", gotPath)
	}
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("ak:sk"))
	if gotAuth != wantAuth {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotKey != "ak" {
		t.Fatalf("access key header = %q", gotKey)
	}
	if gotTS != "2024-05-01T12:00:00Z" {
		t.Fatalf("timestamp header = %q", gotTS)
	}

	mac := hmac.New(sha256.New, []byte("sk"))
	fmt.Fprintf(mac, "GET\n/v2/calls\n%s\n{}", gotTS)
	if want := base64.StdEncoding.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Fatalf("signature = %q, want %q", gotSig, want)
	}
}

func TestRetrieveTranscripts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/calls/transcript" {
			http.Error(w, "wrong endpoint", http.StatusNotFound)
			return
		}
		var body struct {
			Filter struct {
				CallIDs []string `json:"callIds"`
			} `json:"filter"`
		}
		if errDecode := json.NewDecoder(r.Body).Decode(&body); errDecode != nil {
			http.Error(w, errDecode.Error(), http.StatusBadRequest)
			return
		}
		if len(body.Filter.CallIDs) != 2 {
			http.Error(w, "wrong filter", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"callTranscripts":[{"callId":"123","transcript":[{"topic":"Pricing"}]}]}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, "ak", "sk")

	page, errFetch := c.RetrieveTranscripts(context.Background(), []string{"123", "456"})
	if errFetch != nil {
		t.Fatalf("RetrieveTranscripts: %v", errFetch)
	}
	if len(page.CallTranscripts) != 1 || page.CallTranscripts[0].CallID != "123" {
		t.Fatalf("transcripts = %+v", page.CallTranscripts)
	}
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(server.URL, "ak", "sk")
	_, errList := c.ListCalls(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if errList == nil {
		t.Fatal("expected error for 429 response")
	}
}
