package connectors

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/evidify/evidify-cli/config"
	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/evidence"
	"github.com/evidify/evidify-cli/pkg/logging"
)

const (
	defaultMailAPIEndpoint = "https://graph.microsoft.com/v1.0"
	mailAuthorityTemplate  = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

	// Tokens are refreshed this long before their reported expiry.
	tokenEarlyRefresh = 5 * time.Minute
)

// MailAPIConnector fetches messages from a mailbox HTTP API (Microsoft Graph
// shaped). It authenticates with OAuth2 client credentials, pages with
// server-provided continuation links, and downloads attachments per message.
//
// Transient transport failures are retried with exponential backoff (base 2s,
// cap 10s, 3 attempts). 429 responses honor Retry-After and retry once before
// backing off; 401 responses re-authenticate exactly once per request.
type MailAPIConnector struct {
	name               string
	baseURL            string
	mailbox            string
	folders            []string
	batchSize          int
	maxMessages        int
	includeAttachments bool
	startDate          string

	httpClient *http.Client
	ccConfig   clientcredentials.Config

	mu     sync.Mutex
	tokens oauth2.TokenSource

	log logging.Logger
}

// NewMailAPIConnector builds a mailbox API connector.
//
// Required params: client_id, client_secret, mailbox, and one of tenant_id or
// token_url. Optional: base_url, folders (default ["Inbox"]), batch_size
// (default 100, max 1000), max_messages, include_attachments (default true),
// start_date (ISO date filter).
func NewMailAPIConnector(cfg config.ConnectorConfig, log logging.Logger) (SourceConnector, error) {
	clientID := cfg.Params.String("client_id")
	clientSecret := cfg.Params.String("client_secret")
	mailbox := cfg.Params.String("mailbox")
	tokenURL := cfg.Params.String("token_url")
	if tokenURL == "" {
		if tenant := cfg.Params.String("tenant_id"); tenant != "" {
			tokenURL = fmt.Sprintf(mailAuthorityTemplate, tenant)
		}
	}

	if clientID == "" || clientSecret == "" || mailbox == "" || tokenURL == "" {
		return nil, fmt.Errorf(
			"%w: connector %q requires client_id, client_secret, mailbox, and tenant_id or token_url",
			apperrors.ErrConfig, cfg.Name)
	}

	baseURL := cfg.Params.String("base_url")
	if baseURL == "" {
		baseURL = defaultMailAPIEndpoint
	}

	batchSize := cfg.Params.Int("batch_size", 100)
	if batchSize > 1000 {
		batchSize = 1000
	}

	folders := cfg.Params.StringSlice("folders")
	if len(folders) == 0 {
		folders = []string{"Inbox"}
	}

	scope := cfg.Params.String("scope")
	if scope == "" {
		scope = strings.TrimSuffix(baseURL, "/v1.0") + "/.default"
	}

	return &MailAPIConnector{
		name:               cfg.Name,
		baseURL:            strings.TrimRight(baseURL, "/"),
		mailbox:            mailbox,
		folders:            folders,
		batchSize:          batchSize,
		maxMessages:        cfg.Params.Int("max_messages", 0),
		includeAttachments: cfg.Params.Bool("include_attachments", true),
		startDate:          cfg.Params.String("start_date"),
		httpClient:         &http.Client{Timeout: 30 * time.Second},
		ccConfig: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{scope},
		},
		log: log,
	}, nil
}

// Name returns the connector instance name.
func (c *MailAPIConnector) Name() string { return c.name }

// wire shapes for the mailbox API.

type listResponse struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

type mailFolder struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type mailRecipient struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type mailMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	From              mailRecipient   `json:"from"`
	ToRecipients      []mailRecipient `json:"toRecipients"`
	CcRecipients      []mailRecipient `json:"ccRecipients"`
	ReceivedDateTime  string          `json:"receivedDateTime"`
	SentDateTime      string          `json:"sentDateTime"`
	HasAttachments    bool            `json:"hasAttachments"`
	InternetMessageID string          `json:"internetMessageId"`
	ConversationID    string          `json:"conversationId"`
	Importance        string          `json:"importance"`
	IsRead            bool            `json:"isRead"`
}

type mailAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	ContentBytes string `json:"contentBytes"`
}

// Fetch pulls messages from every configured folder.
func (c *MailAPIConnector) Fetch(ctx context.Context) ([]*evidence.Document, error) {
	c.log.Info("starting mailbox ingestion",
		logging.F("connector", c.name),
		logging.F("mailbox", c.mailbox),
		logging.F("folders", strings.Join(c.folders, ",")))

	var documents []*evidence.Document

	for _, folderName := range c.folders {
		folderID, err := c.resolveFolder(ctx, folderName)
		if err != nil {
			return documents, err
		}
		if folderID == "" {
			c.log.Warn("folder not found, skipping", logging.F("folder", folderName))
			continue
		}

		docs, err := c.fetchFolder(ctx, folderID, len(documents))
		if err != nil {
			return documents, err
		}
		documents = append(documents, docs...)

		if c.maxMessages > 0 && len(documents) >= c.maxMessages {
			break
		}
	}

	c.log.Info("mailbox ingestion complete",
		logging.F("connector", c.name),
		logging.F("documents", len(documents)))
	return documents, nil
}

// resolveFolder returns the folder id for a display name, or empty when the
// folder does not exist.
func (c *MailAPIConnector) resolveFolder(ctx context.Context, name string) (string, error) {
	var resp listResponse
	endpoint := fmt.Sprintf("%s/users/%s/mailFolders", c.baseURL, url.PathEscape(c.mailbox))
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return "", fmt.Errorf("listing folders: %w", err)
	}

	for _, raw := range resp.Value {
		var folder mailFolder
		if err := json.Unmarshal(raw, &folder); err != nil {
			continue
		}
		if strings.EqualFold(folder.DisplayName, name) {
			return folder.ID, nil
		}
	}
	return "", nil
}

func (c *MailAPIConnector) fetchFolder(ctx context.Context, folderID string, alreadyFetched int) ([]*evidence.Document, error) {
	params := url.Values{}
	params.Set("$top", strconv.Itoa(c.batchSize))
	params.Set("$select", "id,subject,body,from,toRecipients,ccRecipients,"+
		"receivedDateTime,sentDateTime,hasAttachments,internetMessageId,"+
		"conversationId,importance,isRead")
	params.Set("$orderby", "receivedDateTime desc")
	if c.startDate != "" {
		params.Set("$filter", "receivedDateTime ge "+c.startDate)
	}

	next := fmt.Sprintf("%s/users/%s/mailFolders/%s/messages?%s",
		c.baseURL, url.PathEscape(c.mailbox), url.PathEscape(folderID), params.Encode())

	var documents []*evidence.Document
	fetched := alreadyFetched

	for next != "" {
		if c.maxMessages > 0 && fetched >= c.maxMessages {
			break
		}

		var page listResponse
		if err := c.get(ctx, next, &page); err != nil {
			return documents, fmt.Errorf("fetching message page: %w", err)
		}

		for _, raw := range page.Value {
			var msg mailMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				c.log.Warn("skipping unparsable message", logging.Err(err))
				continue
			}

			doc, err := c.convertMessage(ctx, &msg)
			if err != nil {
				c.log.Error("failed to convert message",
					logging.F("message_id", msg.ID),
					logging.Err(err))
				continue
			}
			documents = append(documents, doc)
			fetched++

			if c.maxMessages > 0 && fetched >= c.maxMessages {
				return documents, nil
			}
		}

		// Continuation link carries its own query parameters.
		next = page.NextLink
	}

	return documents, nil
}

func (c *MailAPIConnector) convertMessage(ctx context.Context, msg *mailMessage) (*evidence.Document, error) {
	collectedAt := time.Now().UTC()
	if msg.ReceivedDateTime != "" {
		if ts, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
			collectedAt = ts.UTC()
		}
	}

	address := msg.From.EmailAddress.Address
	if address == "" {
		address = "unknown"
	}

	doc := evidence.NewDocument(msg.ID, c.name, collectedAt, evidence.Custodian{
		Identifier:  address,
		DisplayName: msg.From.EmailAddress.Name,
		Email:       msg.From.EmailAddress.Address,
	})
	doc.Subject = msg.Subject
	doc.BodyText = msg.Body.Content

	doc.SetMetadata("message_id", msg.InternetMessageID)
	doc.SetMetadata("conversation_id", msg.ConversationID)
	doc.SetMetadata("api_message_id", msg.ID)
	doc.SetMetadata("importance", msg.Importance)
	doc.SetMetadata("is_read", strconv.FormatBool(msg.IsRead))
	doc.SetMetadata("sent_datetime", msg.SentDateTime)
	doc.SetMetadata("received_datetime", msg.ReceivedDateTime)
	doc.SetMetadata("to", joinAddresses(msg.ToRecipients))
	doc.SetMetadata("cc", joinAddresses(msg.CcRecipients))

	if msg.HasAttachments && c.includeAttachments {
		attachments, err := c.fetchAttachments(ctx, msg.ID)
		if err != nil {
			// Attachment failures degrade the document, not the fetch.
			c.log.Error("failed to fetch attachments",
				logging.F("message_id", msg.ID),
				logging.Err(err))
		}
		doc.Attachments = attachments
	}

	doc.AddCustodyEvent(c.name, evidence.ActionCollected, map[string]string{
		"mailbox": c.mailbox,
	})

	return doc, nil
}

func (c *MailAPIConnector) fetchAttachments(ctx context.Context, messageID string) ([]evidence.Attachment, error) {
	endpoint := fmt.Sprintf("%s/users/%s/messages/%s/attachments",
		c.baseURL, url.PathEscape(c.mailbox), url.PathEscape(messageID))

	var resp listResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	var attachments []evidence.Attachment
	for _, raw := range resp.Value {
		var att mailAttachment
		if err := json.Unmarshal(raw, &att); err != nil {
			continue
		}

		// Item attachments (embedded emails) need a separate item fetch.
		if att.ODataType != "#microsoft.graph.fileAttachment" {
			c.log.Debug("skipping non-file attachment", logging.F("name", att.Name))
			continue
		}

		payload, err := base64.StdEncoding.DecodeString(att.ContentBytes)
		if err != nil {
			c.log.Warn("skipping attachment with invalid encoding",
				logging.F("name", att.Name),
				logging.Err(err))
			continue
		}

		checksum := sha256.Sum256(payload)
		size := att.Size
		if size == 0 {
			size = int64(len(payload))
		}

		name := att.Name
		if name == "" {
			name = "unnamed"
		}

		attachments = append(attachments, evidence.Attachment{
			Filename:       name,
			ContentType:    att.ContentType,
			SizeBytes:      size,
			Payload:        payload,
			ChecksumSHA256: hex.EncodeToString(checksum[:]),
		})
	}

	return attachments, nil
}

// tokenSource returns the cached token source, creating it on first use.
// ReuseTokenSourceWithExpiry refreshes tokens tokenEarlyRefresh before expiry.
func (c *MailAPIConnector) tokenSource(ctx context.Context) oauth2.TokenSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		base := c.ccConfig.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
		c.tokens = oauth2.ReuseTokenSourceWithExpiry(nil, base, tokenEarlyRefresh)
	}
	return c.tokens
}

// invalidateToken drops the cached token source so the next request
// re-authenticates.
func (c *MailAPIConnector) invalidateToken() {
	c.mu.Lock()
	c.tokens = nil
	c.mu.Unlock()
}

// get performs an authenticated GET with the connector's retry policy and
// decodes the JSON response into out.
func (c *MailAPIConnector) get(ctx context.Context, endpoint string, out interface{}) error {
	reauthed := false

	operation := func() error {
		status, body, err := c.doOnce(ctx, endpoint)
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrTransport, err)
		}

		switch {
		case status == http.StatusTooManyRequests:
			return fmt.Errorf("%w: still rate limited after honoring Retry-After", apperrors.ErrRateLimit)
		case status == http.StatusUnauthorized:
			if reauthed {
				return backoff.Permanent(fmt.Errorf("%w: request rejected after token refresh", apperrors.ErrAuth))
			}
			reauthed = true
			c.invalidateToken()
			return fmt.Errorf("%w: token rejected", apperrors.ErrAuth)
		case status >= 500:
			return fmt.Errorf("%w: server returned %d", apperrors.ErrTransport, status)
		case status >= 400:
			return backoff.Permanent(fmt.Errorf("request failed with status %d: %s", status, truncate(string(body), 200)))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: decoding response: %v", apperrors.ErrParse, err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = 10 * time.Second

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, 2), ctx))
}

// doOnce issues a single authenticated request. A 429 response is retried
// once inline after the advertised Retry-After delay.
func (c *MailAPIConnector) doOnce(ctx context.Context, endpoint string) (int, []byte, error) {
	status, body, retryAfter, err := c.issue(ctx, endpoint)
	if err != nil {
		return 0, nil, err
	}

	if status == http.StatusTooManyRequests {
		delay := retryAfterDelay(retryAfter)
		c.log.Warn("rate limited, honoring Retry-After",
			logging.F("delay", delay))
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(delay):
		}
		status, body, _, err = c.issue(ctx, endpoint)
		return status, body, err
	}

	return status, body, nil
}

func (c *MailAPIConnector) issue(ctx context.Context, endpoint string) (int, []byte, string, error) {
	token, err := c.tokenSource(ctx).Token()
	if err != nil {
		return 0, nil, "", fmt.Errorf("acquiring token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return 0, nil, "", err
	}
	return resp.StatusCode, body, resp.Header.Get("Retry-After"), nil
}

func retryAfterDelay(header string) time.Duration {
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 60 * time.Second
}

func joinAddresses(recipients []mailRecipient) string {
	addrs := make([]string, 0, len(recipients))
	for _, r := range recipients {
		addrs = append(addrs, r.EmailAddress.Address)
	}
	return strings.Join(addrs, ", ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
