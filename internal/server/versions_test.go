package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
)

func saveVersionedDocument(testContext *testing.T, env *testEnv, id string) string {
	testContext.Helper()
	state := encodedTestSnapshot(testContext, "Versioned", "2025-08-30T10:00:00.000Z", "ada", "versioned body")
	recorder := env.perform(testContext, http.MethodPost, "/documents", map[string]any{
		"id":              id,
		"state":           state,
		"documentTitle":   "Versioned",
		"userName":        "ada",
		"markdownSummary": "# Versioned\n\nversioned body",
		"delta":           map[string]any{"ops": []map[string]any{{"insert": "versioned body"}}},
	})
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("save failed: %d %s", recorder.Code, recorder.Body.String())
	}
	return state
}

func listVersionRecords(testContext *testing.T, env *testEnv, id string) []map[string]any {
	testContext.Helper()
	recorder := env.perform(testContext, http.MethodGet, "/documents/versions?id="+url.QueryEscape(id), nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("list versions failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var versions []map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &versions); err != nil {
		testContext.Fatalf("decode versions: %v", err)
	}
	return versions
}

func TestSaveAppendsVersionWithMetadata(testContext *testing.T) {
	env := newTestEnv(testContext)
	saveVersionedDocument(testContext, env, "metadata-doc")

	versions := listVersionRecords(testContext, env, "metadata-doc")
	if len(versions) != 1 {
		testContext.Fatalf("expected one version, got %v", versions)
	}
	version := versions[0]
	if version["title"] != "Versioned" || version["author"] != "ada" {
		testContext.Fatalf("unexpected version metadata: %v", version)
	}
	if version["version_id"] == "" || version["timestamp"] == "" {
		testContext.Fatalf("version must carry id and timestamp: %v", version)
	}
}

func TestListVersionsValidation(testContext *testing.T) {
	env := newTestEnv(testContext)

	missing := env.perform(testContext, http.MethodGet, "/documents/versions", nil)
	if missing.Code != http.StatusBadRequest {
		testContext.Fatalf("expected 400 for missing id, got %d", missing.Code)
	}
	empty := env.perform(testContext, http.MethodGet, "/documents/versions?id=never-saved", nil)
	if empty.Code != http.StatusOK {
		testContext.Fatalf("expected 200 empty listing, got %d", empty.Code)
	}
	if body := empty.Body.String(); body != "[]" {
		testContext.Fatalf("expected empty array, got %s", body)
	}
}

func TestVersionContentFormats(testContext *testing.T) {
	env := newTestEnv(testContext)
	state := saveVersionedDocument(testContext, env, "content-doc")

	versions := listVersionRecords(testContext, env, "content-doc")
	if len(versions) != 1 {
		testContext.Fatalf("expected one version, got %v", versions)
	}
	versionID, _ := versions[0]["version_id"].(string)

	binary := env.perform(testContext, http.MethodGet,
		"/documents/version-content?id=content-doc&format=binary&timestamp="+url.QueryEscape(versionID), nil)
	if binary.Code != http.StatusOK {
		testContext.Fatalf("binary fetch failed: %d %s", binary.Code, binary.Body.String())
	}
	binaryBody := decodeJSONBody(testContext, binary)
	if binaryBody["state"] != state {
		testContext.Fatalf("binary state differs from saved state")
	}

	delta := env.perform(testContext, http.MethodGet,
		"/documents/version-content?id=content-doc&format=delta&timestamp="+url.QueryEscape(versionID), nil)
	if delta.Code != http.StatusOK {
		testContext.Fatalf("delta fetch failed: %d", delta.Code)
	}
	var deltaBody map[string]any
	if err := json.Unmarshal(delta.Body.Bytes(), &deltaBody); err != nil {
		testContext.Fatalf("delta is not JSON: %v", err)
	}
	if _, ok := deltaBody["ops"]; !ok {
		testContext.Fatalf("delta missing ops: %v", deltaBody)
	}

	markdown := env.perform(testContext, http.MethodGet,
		"/documents/version-content?id=content-doc&format=markdown&timestamp="+url.QueryEscape(versionID), nil)
	if markdown.Code != http.StatusOK {
		testContext.Fatalf("markdown fetch failed: %d", markdown.Code)
	}
	if contentType := markdown.Header().Get("Content-Type"); contentType != markdownContentType {
		testContext.Fatalf("unexpected markdown content type: %q", contentType)
	}
	if markdown.Body.String() != "# Versioned\n\nversioned body" {
		testContext.Fatalf("unexpected markdown body: %q", markdown.Body.String())
	}
}

func TestVersionContentAcceptsRawTimestamp(testContext *testing.T) {
	env := newTestEnv(testContext)
	saveVersionedDocument(testContext, env, "raw-ts-doc")

	versions := listVersionRecords(testContext, env, "raw-ts-doc")
	rawTimestamp, _ := versions[0]["timestamp"].(string)

	recorder := env.perform(testContext, http.MethodGet,
		"/documents/version-content?id=raw-ts-doc&format=binary&timestamp="+url.QueryEscape(rawTimestamp), nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("raw timestamp lookup failed: %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestVersionContentValidation(testContext *testing.T) {
	env := newTestEnv(testContext)
	saveVersionedDocument(testContext, env, "validation-doc")

	testCases := []struct {
		name       string
		target     string
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing-parameters",
			target:     "/documents/version-content?id=validation-doc",
			wantStatus: http.StatusBadRequest,
			wantError:  "missing_parameters",
		},
		{
			name:       "invalid-format",
			target:     "/documents/version-content?id=validation-doc&format=xml&timestamp=2025_08_30T10_00_00_000Z",
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_format",
		},
		{
			name:       "unknown-version",
			target:     "/documents/version-content?id=validation-doc&format=binary&timestamp=2099_01_01T00_00_00_000Z",
			wantStatus: http.StatusNotFound,
			wantError:  "version_content_not_found",
		},
	}
	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(testContext *testing.T) {
			recorder := env.perform(testContext, http.MethodGet, testCase.target, nil)
			if recorder.Code != testCase.wantStatus {
				testContext.Fatalf("expected %d, got %d", testCase.wantStatus, recorder.Code)
			}
			if body := decodeJSONBody(testContext, recorder); body["error"] != testCase.wantError {
				testContext.Fatalf("expected error %q, got %v", testCase.wantError, body)
			}
		})
	}
}

func TestDeleteVersionRemovesBothArtifacts(testContext *testing.T) {
	env := newTestEnv(testContext)
	saveVersionedDocument(testContext, env, "delete-version-doc")

	versions := listVersionRecords(testContext, env, "delete-version-doc")
	versionID, _ := versions[0]["version_id"].(string)

	deleted := env.perform(testContext, http.MethodDelete,
		"/documents/versions?id=delete-version-doc&timestamp="+url.QueryEscape(versionID), nil)
	if deleted.Code != http.StatusOK {
		testContext.Fatalf("delete version failed: %d %s", deleted.Code, deleted.Body.String())
	}
	body := decodeJSONBody(testContext, deleted)
	if filesDeleted, _ := body["files_deleted"].(float64); filesDeleted != 2 {
		testContext.Fatalf("expected 2 files deleted, got %v", body)
	}

	if remaining := listVersionRecords(testContext, env, "delete-version-doc"); len(remaining) != 0 {
		testContext.Fatalf("expected no versions left, got %v", remaining)
	}

	latest := env.perform(testContext, http.MethodGet, "/documents?id=delete-version-doc", nil)
	if latest.Code != http.StatusOK {
		testContext.Fatalf("latest snapshot must survive version deletion, got %d", latest.Code)
	}
}

func TestDeleteVersionValidation(testContext *testing.T) {
	env := newTestEnv(testContext)

	missing := env.perform(testContext, http.MethodDelete, "/documents/versions?id=some-doc", nil)
	if missing.Code != http.StatusBadRequest {
		testContext.Fatalf("expected 400 for missing timestamp, got %d", missing.Code)
	}
	unknown := env.perform(testContext, http.MethodDelete,
		"/documents/versions?id=some-doc&timestamp=2099_01_01T00_00_00_000Z", nil)
	if unknown.Code != http.StatusNotFound {
		testContext.Fatalf("expected 404 for unknown version, got %d", unknown.Code)
	}
}
