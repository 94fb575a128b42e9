package connectors

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidify/evidify-cli/config"
	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/logging"
)

func testLogger() logging.Logger {
	return logging.NewNopLogger()
}

func TestFactoryUnknownType(t *testing.T) {
	factory := NewFactory()

	_, err := factory.Create(config.ConnectorConfig{
		Type: "carrier_pigeon",
		Name: "pigeons",
	}, testLogger())

	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
	assert.Contains(t, err.Error(), "carrier_pigeon")
}

func TestFactoryCreatesRegisteredTypes(t *testing.T) {
	factory := NewFactory()

	conn, err := factory.Create(config.ConnectorConfig{
		Type:   config.ConnectorMockEmail,
		Name:   "dev-mock",
		Params: config.Params{"batch_size": 3},
	}, testLogger())

	require.NoError(t, err)
	assert.Equal(t, "dev-mock", conn.Name())
}

func TestMockEmailDeterministic(t *testing.T) {
	cfg := config.ConnectorConfig{
		Type:   config.ConnectorMockEmail,
		Name:   "mock",
		Params: config.Params{"batch_size": 5},
	}

	first, err := NewMockEmailConnector(cfg, testLogger())
	require.NoError(t, err)
	second, err := NewMockEmailConnector(cfg, testLogger())
	require.NoError(t, err)

	docsA, err := first.Fetch(context.Background())
	require.NoError(t, err)
	docsB, err := second.Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, docsA, 5)
	require.Len(t, docsB, 5)

	for i := range docsA {
		assert.Equal(t, docsA[i].DocumentID, docsB[i].DocumentID)
		assert.Equal(t, docsA[i].Subject, docsB[i].Subject)
		assert.Equal(t, docsA[i].CollectedAt, docsB[i].CollectedAt)
		require.Len(t, docsA[i].Attachments, 1)
		assert.Equal(t,
			docsA[i].Attachments[0].ChecksumSHA256,
			docsB[i].Attachments[0].ChecksumSHA256)
	}
}

func TestMockEmailCustodyEvent(t *testing.T) {
	conn, err := NewMockEmailConnector(config.ConnectorConfig{
		Type:   config.ConnectorMockEmail,
		Name:   "mock",
		Params: config.Params{"batch_size": 1},
	}, testLogger())
	require.NoError(t, err)

	docs, err := conn.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.Len(t, docs[0].ChainOfCustody, 1)
	assert.Equal(t, "mock", docs[0].ChainOfCustody[0].Actor)
	assert.Equal(t, "collected", docs[0].ChainOfCustody[0].Action)
}

func TestFileJSONRequiresDirectory(t *testing.T) {
	_, err := NewFileJSONConnector(config.ConnectorConfig{
		Type: config.ConnectorFileBasedJSON,
		Name: "corpus",
	}, testLogger())

	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

func TestFileJSONSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()

	good := `{"from": "jane.doe@acme.com", "to": "legal@acme.com", "subject": "Q3 forecast", "body": "numbers attached", "date": "2024-03-15"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001.json"), []byte(good), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	conn, err := NewFileJSONConnector(config.ConnectorConfig{
		Type:   config.ConnectorFileBasedJSON,
		Name:   "corpus",
		Params: config.Params{"directory": dir, "id_prefix": "acme"},
	}, testLogger())
	require.NoError(t, err)

	docs, err := conn.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, "acme-001", doc.DocumentID)
	assert.Equal(t, "Q3 forecast", doc.Subject)
	assert.Equal(t, "jane.doe", doc.Custodian.Identifier)
	assert.Equal(t, "Jane Doe", doc.Custodian.DisplayName)
	assert.Equal(t, "jane.doe@acme.com", doc.Custodian.Email)
	assert.Equal(t,
		time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		doc.CollectedAt)
}

func TestFileJSONExecutiveClassification(t *testing.T) {
	dir := t.TempDir()
	email := `{"from": "ken.lay@acme.com", "subject": "board update", "body": "..."}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "exec.json"), []byte(email), 0o644))

	conn, err := NewFileJSONConnector(config.ConnectorConfig{
		Type: config.ConnectorFileBasedJSON,
		Name: "corpus",
		Params: config.Params{
			"directory":       dir,
			"executive_names": []interface{}{"ken.lay", "jeff.skilling"},
		},
	}, testLogger())
	require.NoError(t, err)

	docs, err := conn.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "executive", docs[0].Metadata["custodian_type"])
}

func TestWorkspaceAPIFetchUnimplemented(t *testing.T) {
	conn, err := NewWorkspaceAPIConnector(config.ConnectorConfig{
		Type: config.ConnectorWorkspaceAPI,
		Name: "gw",
	}, testLogger())
	require.NoError(t, err)

	_, err = conn.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

func TestMailAPIRequiresCredentials(t *testing.T) {
	_, err := NewMailAPIConnector(config.ConnectorConfig{
		Type:   config.ConnectorMailAPI,
		Name:   "m365",
		Params: config.Params{"mailbox": "legal@acme.com"},
	}, testLogger())

	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

// newMailAPITestServer stands up a minimal Graph-shaped API: a token
// endpoint, one Inbox folder, a two-page message listing, and a single
// file attachment.
func newMailAPITestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token": "test-token", "token_type": "Bearer", "expires_in": 3600}`)
	})

	mux.HandleFunc("/users/legal@acme.com/mailFolders", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value": [
			{"id": "folder-inbox", "displayName": "Inbox"},
			{"id": "folder-sent", "displayName": "Sent Items"}
		]}`)
	})

	var server *httptest.Server

	mux.HandleFunc("/users/legal@acme.com/mailFolders/folder-inbox/messages",
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")

			if r.URL.Query().Get("page") == "2" {
				fmt.Fprint(w, `{"value": [
					{"id": "msg-2", "subject": "Re: discovery hold",
					 "body": {"contentType": "text", "content": "confirmed"},
					 "from": {"emailAddress": {"name": "Pat Lee", "address": "pat.lee@acme.com"}},
					 "receivedDateTime": "2024-04-02T10:00:00Z",
					 "hasAttachments": true}
				]}`)
				return
			}

			resp := map[string]interface{}{
				"value": []map[string]interface{}{
					{
						"id":      "msg-1",
						"subject": "discovery hold",
						"body":    map[string]string{"contentType": "text", "content": "please preserve"},
						"from": map[string]interface{}{
							"emailAddress": map[string]string{"name": "Jo Kim", "address": "jo.kim@acme.com"},
						},
						"toRecipients": []map[string]interface{}{
							{"emailAddress": map[string]string{"address": "pat.lee@acme.com"}},
						},
						"receivedDateTime": "2024-04-01T09:30:00Z",
						"hasAttachments":   false,
					},
				},
				"@odata.nextLink": server.URL + "/users/legal@acme.com/mailFolders/folder-inbox/messages?page=2",
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		})

	mux.HandleFunc("/users/legal@acme.com/messages/msg-2/attachments",
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			payload := base64.StdEncoding.EncodeToString([]byte("hold notice body"))
			fmt.Fprintf(w, `{"value": [
				{"@odata.type": "#microsoft.graph.fileAttachment",
				 "name": "hold.pdf", "contentType": "application/pdf",
				 "size": 16, "contentBytes": %q},
				{"@odata.type": "#microsoft.graph.itemAttachment",
				 "name": "embedded message"}
			]}`, payload)
		})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestMailAPIFetchPagesAndAttachments(t *testing.T) {
	server := newMailAPITestServer(t)

	conn, err := NewMailAPIConnector(config.ConnectorConfig{
		Type: config.ConnectorMailAPI,
		Name: "m365",
		Params: config.Params{
			"client_id":     "cid",
			"client_secret": "secret",
			"token_url":     server.URL + "/token",
			"base_url":      server.URL,
			"mailbox":       "legal@acme.com",
			"scope":         "api/.default",
		},
	}, testLogger())
	require.NoError(t, err)

	docs, err := conn.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	first := docs[0]
	assert.Equal(t, "msg-1", first.DocumentID)
	assert.Equal(t, "discovery hold", first.Subject)
	assert.Equal(t, "jo.kim@acme.com", first.Custodian.Email)
	assert.Equal(t, "pat.lee@acme.com", first.Metadata["to"])
	assert.Equal(t,
		time.Date(2024, 4, 1, 9, 30, 0, 0, time.UTC),
		first.CollectedAt)
	assert.Empty(t, first.Attachments)

	second := docs[1]
	assert.Equal(t, "msg-2", second.DocumentID)
	require.Len(t, second.Attachments, 1, "item attachments should be skipped")
	att := second.Attachments[0]
	assert.Equal(t, "hold.pdf", att.Filename)
	assert.Equal(t, "application/pdf", att.ContentType)
	assert.Equal(t, []byte("hold notice body"), att.Payload)
	assert.NotEmpty(t, att.ChecksumSHA256)
}

func TestMailAPISkipsMissingFolder(t *testing.T) {
	server := newMailAPITestServer(t)

	conn, err := NewMailAPIConnector(config.ConnectorConfig{
		Type: config.ConnectorMailAPI,
		Name: "m365",
		Params: config.Params{
			"client_id":     "cid",
			"client_secret": "secret",
			"token_url":     server.URL + "/token",
			"base_url":      server.URL,
			"mailbox":       "legal@acme.com",
			"scope":         "api/.default",
			"folders":       []interface{}{"Archive"},
		},
	}, testLogger())
	require.NoError(t, err)

	docs, err := conn.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRetryAfterDelay(t *testing.T) {
	assert.Equal(t, 7*time.Second, retryAfterDelay("7"))
	assert.Equal(t, 60*time.Second, retryAfterDelay(""))
	assert.Equal(t, 60*time.Second, retryAfterDelay("soon"))
}
