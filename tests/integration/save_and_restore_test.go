package integration

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/QuillpadLabs/quillpad/backend/internal/document"
	"github.com/QuillpadLabs/quillpad/backend/internal/server"
	"github.com/QuillpadLabs/quillpad/backend/internal/session"
	"github.com/QuillpadLabs/quillpad/backend/internal/signaling"
	"github.com/QuillpadLabs/quillpad/backend/internal/store"
	"github.com/gin-gonic/gin"
)

func newAPIServer(testContext *testing.T) *httptest.Server {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	snapshotStore, err := store.New(store.Config{Root: testContext.TempDir()})
	if err != nil {
		testContext.Fatalf("new snapshot store: %v", err)
	}
	sessionHost, err := session.NewHost(session.Config{Store: snapshotStore, PersistInterval: time.Hour})
	if err != nil {
		testContext.Fatalf("new session host: %v", err)
	}
	testContext.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sessionHost.Shutdown(ctx) //nolint:errcheck
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:           snapshotStore,
		Sessions:        sessionHost,
		ActiveDocuments: signaling.NewActiveDocumentHub(""),
	})
	if err != nil {
		testContext.Fatalf("new http handler: %v", err)
	}

	apiServer := httptest.NewServer(handler)
	testContext.Cleanup(apiServer.Close)
	return apiServer
}

func postJSON(testContext *testing.T, apiServer *httptest.Server, path string, payload any) map[string]any {
	testContext.Helper()
	encoded, err := json.Marshal(payload)
	if err != nil {
		testContext.Fatalf("encode payload: %v", err)
	}
	response, err := http.Post(apiServer.URL+path, "application/json", bytes.NewReader(encoded))
	if err != nil {
		testContext.Fatalf("post %s: %v", path, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("post %s returned %d", path, response.StatusCode)
	}
	decoded := map[string]any{}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		testContext.Fatalf("decode response: %v", err)
	}
	return decoded
}

func getJSON(testContext *testing.T, apiServer *httptest.Server, path string, target any) int {
	testContext.Helper()
	response, err := http.Get(apiServer.URL + path)
	if err != nil {
		testContext.Fatalf("get %s: %v", path, err)
	}
	defer response.Body.Close()
	if response.StatusCode == http.StatusOK {
		if err := json.NewDecoder(response.Body).Decode(target); err != nil {
			testContext.Fatalf("decode %s: %v", path, err)
		}
	}
	return response.StatusCode
}

func deleteRequest(testContext *testing.T, apiServer *httptest.Server, path string) int {
	testContext.Helper()
	request, err := http.NewRequest(http.MethodDelete, apiServer.URL+path, nil)
	if err != nil {
		testContext.Fatalf("build delete request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("delete %s: %v", path, err)
	}
	defer response.Body.Close()
	return response.StatusCode
}

func TestSaveRestoreAndDeleteLifecycle(testContext *testing.T) {
	apiServer := newAPIServer(testContext)

	replicated := document.NewReplicated()
	err := replicated.SetMetadata(document.Metadata{
		Title:   "Launch Checklist",
		SavedAt: "2025-08-30T10:00:00.000Z",
		SavedBy: "ada",
	})
	if err != nil {
		testContext.Fatalf("set metadata: %v", err)
	}
	if err := replicated.SetBody("dry run, announcement, retro"); err != nil {
		testContext.Fatalf("set body: %v", err)
	}
	state := base64.StdEncoding.EncodeToString(replicated.EncodeState())

	saved := postJSON(testContext, apiServer, "/documents", map[string]any{
		"state":           state,
		"documentTitle":   "Launch Checklist",
		"userName":        "ada",
		"markdownSummary": "# Launch Checklist",
	})
	docID, _ := saved["id"].(string)
	if docID == "" {
		testContext.Fatalf("save did not return a minted id: %v", saved)
	}

	var fetched map[string]any
	if status := getJSON(testContext, apiServer, "/documents?id="+url.QueryEscape(docID), &fetched); status != http.StatusOK {
		testContext.Fatalf("fetch returned %d", status)
	}
	if fetched["state"] != state {
		testContext.Fatalf("restored state differs from saved state")
	}
	restoredBytes, err := base64.StdEncoding.DecodeString(fetched["state"].(string))
	if err != nil {
		testContext.Fatalf("decode restored state: %v", err)
	}
	restored, err := document.LoadReplicated(restoredBytes)
	if err != nil {
		testContext.Fatalf("load restored snapshot: %v", err)
	}
	if restored.BodyText() != "dry run, announcement, retro" {
		testContext.Fatalf("restored body mismatch: %q", restored.BodyText())
	}

	var listing []map[string]any
	if status := getJSON(testContext, apiServer, "/documents?title=launch", &listing); status != http.StatusOK {
		testContext.Fatalf("listing returned %d", status)
	}
	if len(listing) != 1 || listing[0]["id"] != docID {
		testContext.Fatalf("unexpected listing: %v", listing)
	}

	var versions []map[string]any
	if status := getJSON(testContext, apiServer, "/documents/versions?id="+url.QueryEscape(docID), &versions); status != http.StatusOK {
		testContext.Fatalf("versions returned %d", status)
	}
	if len(versions) != 1 {
		testContext.Fatalf("expected one version, got %v", versions)
	}
	versionID, _ := versions[0]["version_id"].(string)

	var versionContent map[string]any
	contentPath := "/documents/version-content?format=binary&id=" + url.QueryEscape(docID) +
		"&timestamp=" + url.QueryEscape(versionID)
	if status := getJSON(testContext, apiServer, contentPath, &versionContent); status != http.StatusOK {
		testContext.Fatalf("version content returned %d", status)
	}
	if versionContent["state"] != state {
		testContext.Fatalf("version snapshot differs from saved state")
	}

	versionPath := "/documents/versions?id=" + url.QueryEscape(docID) + "&timestamp=" + url.QueryEscape(versionID)
	if status := deleteRequest(testContext, apiServer, versionPath); status != http.StatusOK {
		testContext.Fatalf("delete version returned %d", status)
	}

	if status := deleteRequest(testContext, apiServer, "/documents?id="+url.QueryEscape(docID)); status != http.StatusOK {
		testContext.Fatalf("delete document returned %d", status)
	}
	if status := getJSON(testContext, apiServer, "/documents?id="+url.QueryEscape(docID), &fetched); status != http.StatusNotFound {
		testContext.Fatalf("expected 404 after delete, got %d", status)
	}
}
