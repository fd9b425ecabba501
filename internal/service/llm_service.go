package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"veritrust/internal/models"
	"veritrust/pkg/config"

	"github.com/Role1776/gigago"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LLMService wraps the GigaChat client used by the AI analyzers. Chat-style
// prompts go through the gigago SDK; file upload and vision requests use the
// REST API directly because the SDK does not expose attachments.
type LLMService struct {
	client     *gigago.Client
	model      *gigago.GenerativeModel
	config     *config.GigaChatConfig
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	oauthURL   string

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func buildSystemInstruction() string {
	return `You are a document verification analyst. You examine identity and legal documents (passports, licenses, contracts, certificates) for authenticity and internal consistency.

Rules:
- Always answer with strictly valid JSON in the exact shape requested, with no commentary, no markdown fences, nothing before or after the JSON.
- Be conservative: only report a document as authentic when nothing contradicts it.
- Never invent document content. If you cannot read the document, say so through the requested JSON fields.`
}

func NewLLMService(cfg *config.GigaChatConfig, logger *zap.Logger) (*LLMService, error) {
	ctx := context.Background()

	opts := []gigago.Option{
		gigago.WithCustomScope(cfg.Scope),
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, gigago.WithCustomInsecureSkipVerify(true))
		logger.Warn("GigaChat TLS certificate verification is disabled")
	}

	client, err := gigago.NewClient(ctx, cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GigaChat client: %w", err)
	}

	model := client.GenerativeModel("GigaChat")
	model.SystemInstruction = buildSystemInstruction()
	model.Temperature = 0.1

	httpClient := &http.Client{}
	if cfg.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	service := &LLMService{
		client:     client,
		model:      model,
		config:     cfg,
		logger:     logger,
		httpClient: httpClient,
		baseURL:    "https://gigachat.devices.sberbank.ru/api/v1",
		oauthURL:   "https://ngw.devices.sberbank.ru:9443/api/v2/oauth",
	}

	// Fetch the first access token eagerly so bad credentials fail at
	// startup rather than on the first verification.
	if _, err := service.token(ctx); err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	return service, nil
}

func (s *LLMService) Close() {
	s.client.Close()
}

// token returns a valid access token for direct REST calls, refreshing it
// shortly before expiry. GigaChat tokens live around 30 minutes.
func (s *LLMService) token(ctx context.Context) (string, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	if s.accessToken != "" && time.Until(s.tokenExpiry) > time.Minute {
		return s.accessToken, nil
	}

	accessToken, expiresIn, err := s.fetchAccessToken(ctx)
	if err != nil {
		return "", err
	}
	s.accessToken = accessToken
	s.tokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	return accessToken, nil
}

// invalidateToken drops a token the API rejected so the next call refreshes.
func (s *LLMService) invalidateToken() {
	s.tokenMu.Lock()
	s.accessToken = ""
	s.tokenMu.Unlock()
}

// fetchAccessToken obtains an access token from the GigaChat OAuth endpoint.
// Needed for the file upload and vision endpoints the SDK does not cover.
func (s *LLMService) fetchAccessToken(ctx context.Context) (string, int, error) {
	form := url.Values{}
	form.Set("scope", s.config.Scope)

	req, err := http.NewRequestWithContext(ctx, "POST", s.oauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create OAuth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	// RqUID is a mandatory per-request id for the GigaChat OAuth endpoint.
	req.Header.Set("RqUID", uuid.NewString())
	// API key is already Base64-encoded per GigaChat API docs.
	req.Header.Set("Authorization", "Basic "+s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to get access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("OAuth failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var oauthResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&oauthResp); err != nil {
		return "", 0, fmt.Errorf("failed to decode OAuth response: %w", err)
	}
	if oauthResp.AccessToken == "" {
		return "", 0, fmt.Errorf("empty access token in OAuth response")
	}
	if oauthResp.ExpiresIn <= 0 {
		oauthResp.ExpiresIn = 1800
	}

	s.logger.Info("GigaChat access token obtained", zap.Int("expires_in", oauthResp.ExpiresIn))
	return oauthResp.AccessToken, oauthResp.ExpiresIn, nil
}

// doAuthorized performs an authenticated POST against the REST API. A 401
// means the token expired early; it is refreshed and the request retried once
// before the failure propagates.
func (s *LLMService) doAuthorized(ctx context.Context, endpoint, contentType string, body []byte) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		accessToken, err := s.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get access token: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			s.invalidateToken()
			s.logger.Warn("GigaChat rejected access token, refreshing", zap.String("endpoint", endpoint))
			continue
		}
		return resp, nil
	}
}

type authenticityResponse struct {
	Status  string          `json:"status"`
	Score   float64         `json:"score"`
	Reasons []string        `json:"reasons"`
	Checks  map[string]bool `json:"checks"`
}

// AssessAuthenticity sends the document to the vision endpoint and asks for a
// structured verdict. documentType is the user-declared classification the
// model should check the document against.
func (s *LLMService) AssessAuthenticity(ctx context.Context, fileName string, file io.Reader, documentType string) (models.AuthenticityResult, error) {
	fileID, err := s.uploadFile(ctx, file, fileName)
	if err != nil {
		return models.AuthenticityResult{}, fmt.Errorf("failed to upload file for assessment: %w", err)
	}

	prompt := fmt.Sprintf(`Assess the authenticity of the attached document. The user declared its type as %q.

Return ONLY a JSON object of this exact shape:
{
  "status": "authentic" | "suspicious" | "rejected",
  "score": number between 0 and 1,
  "reasons": ["short reason", ...],
  "checks": {"layout_consistent": bool, "type_matches_declaration": bool, "no_visible_tampering": bool}
}`, documentType)

	content, err := s.generateWithAttachment(ctx, fileID, prompt)
	if err != nil {
		return models.AuthenticityResult{}, err
	}

	var parsed authenticityResponse
	if err := unmarshalObject(content, &parsed); err != nil {
		return models.AuthenticityResult{}, fmt.Errorf("failed to parse assessment response: %w", err)
	}

	switch parsed.Status {
	case models.VerdictAuthentic, models.VerdictSuspicious, models.VerdictRejected:
	default:
		return models.AuthenticityResult{}, fmt.Errorf("unexpected verdict %q in assessment response", parsed.Status)
	}

	signals := map[string]models.SignalValue{
		"score": models.NumberSignal(parsed.Score),
		"model": models.StringSignal("GigaChat"),
	}
	for name, ok := range parsed.Checks {
		signals["check_"+name] = models.BoolSignal(ok)
	}
	if len(parsed.Reasons) > 0 {
		signals["reasons"] = models.StringSignal(strings.Join(parsed.Reasons, "; "))
	}

	return models.AuthenticityResult{
		Status:  parsed.Status,
		Signals: signals,
	}, nil
}

// AnalyzeContent cross-checks the extracted text for internal consistency
// and returns anomaly flags. An empty slice means no anomalies.
func (s *LLMService) AnalyzeContent(ctx context.Context, extractedText string) ([]string, error) {
	extractedText = strings.TrimSpace(extractedText)
	if extractedText == "" {
		// Nothing to cross-check; the empty-text degradation is already
		// visible through the confidence score.
		return []string{}, nil
	}

	prompt := fmt.Sprintf(`The following text was extracted from a document under verification.

Text:
%s

Identify content anomalies: missing mandatory fields, inconsistent dates, mismatched names or numbers, signs of altered or garbled content. Return ONLY a JSON array of short snake_case flag strings, e.g. ["missing_expiry_date", "inconsistent_dates"]. Return [] if nothing is anomalous.`, extractedText)

	resp, err := s.model.Generate(ctx, []gigago.Message{
		{Role: gigago.RoleUser, Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate content analysis: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from LLM")
	}

	var flags []string
	if err := unmarshalArray(resp.Choices[0].Message.Content, &flags); err != nil {
		return nil, fmt.Errorf("failed to parse content analysis response: %w", err)
	}
	if flags == nil {
		flags = []string{}
	}
	return flags, nil
}

// uploadFile uploads a document to GigaChat and returns the file ID usable in
// vision requests. Endpoint: POST /files.
func (s *LLMService) uploadFile(ctx context.Context, fileReader io.Reader, fileName string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	// "general" purpose allows using the file in generation requests.
	if err := writer.WriteField("purpose", "general"); err != nil {
		return "", fmt.Errorf("failed to write purpose field: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		switch ext {
		case ".pdf":
			mimeType = "application/pdf"
		case ".jpg", ".jpeg":
			mimeType = "image/jpeg"
		case ".png":
			mimeType = "image/png"
		default:
			mimeType = "application/octet-stream"
		}
	}

	part, err := writer.CreatePart(map[string][]string{
		"Content-Type":        {mimeType},
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, fileReader); err != nil {
		return "", fmt.Errorf("failed to copy file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}

	resp, err := s.doAuthorized(ctx, "/files", writer.FormDataContentType(), body.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("file upload failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var uploadResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if uploadResp.ID == "" {
		return "", fmt.Errorf("empty file ID in upload response")
	}

	return uploadResp.ID, nil
}

// generateWithAttachment calls the chat completions endpoint with a file
// attachment. Endpoint: POST /chat/completions.
func (s *LLMService) generateWithAttachment(ctx context.Context, fileID, prompt string) (string, error) {
	reqBody := map[string]interface{}{
		"model": "GigaChat",
		"messages": []map[string]interface{}{
			{
				"role":        "user",
				"content":     prompt,
				"attachments": []string{fileID},
			},
		},
		"temperature": 0.1,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := s.doAuthorized(ctx, "/chat/completions", "application/json", payload)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("vision request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode vision response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// unmarshalObject extracts and parses the first JSON object in an LLM
// response, stripping markdown fences the model sometimes adds despite
// instructions.
func unmarshalObject(content string, v interface{}) error {
	return unmarshalDelimited(content, '{', '}', v)
}

// unmarshalArray does the same for a JSON array response.
func unmarshalArray(content string, v interface{}) error {
	return unmarshalDelimited(content, '[', ']', v)
}

func unmarshalDelimited(content string, open, closing byte, v interface{}) error {
	content = strings.TrimSpace(content)
	start := strings.IndexByte(content, open)
	end := strings.LastIndexByte(content, closing)
	if start == -1 || end == -1 || end < start {
		return fmt.Errorf("no JSON payload in response: %s", content)
	}

	jsonStr := content[start : end+1]
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		jsonStr = strings.TrimSpace(jsonStr)
		jsonStr = strings.TrimPrefix(jsonStr, "```json")
		jsonStr = strings.TrimPrefix(jsonStr, "```")
		jsonStr = strings.TrimSuffix(jsonStr, "```")
		jsonStr = strings.TrimSpace(jsonStr)
		if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
			return fmt.Errorf("failed to parse JSON response: %w, content: %s", err, content)
		}
	}
	return nil
}
