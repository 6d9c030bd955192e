package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/utils"
)

// ASRService transcribes audio through DashScope's file transcription API.
// Publicly reachable URLs are handed to the service directly; audio that
// sits behind the platform's referer wall is uploaded to DashScope's
// temporary OSS bucket first and referenced by oss:// URL.
type ASRService interface {
	// TranscribeURL submits audioURL for transcription and blocks until the
	// task finishes or the configured timeout elapses. Returns the joined
	// transcript text.
	TranscribeURL(ctx context.Context, audioURL string) (string, error)
	// UploadTempFile pushes a local file into the temporary upload bucket
	// and returns the oss:// URL usable with TranscribeURL.
	UploadTempFile(ctx context.Context, filePath string) (string, error)
}

type asrService struct {
	log        *logger.Logger
	apiBaseURL string
	apiKey     string
	model      string
	localModel string
	timeout    time.Duration
	pollEvery  time.Duration
	httpClient *http.Client
}

func NewASRService(log *logger.Logger) (ASRService, error) {
	apiKey := os.Getenv("DASHSCOPE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing DASHSCOPE_API_KEY")
	}
	serviceLog := log.With("service", "ASRService")
	apiBaseURL := utils.GetEnv("DASHSCOPE_API_BASE_URL", "https://dashscope.aliyuncs.com/api/v1", log)
	model := utils.GetEnv("ASR_MODEL", "fun-asr", log)
	localModel := utils.GetEnv("ASR_MODEL_LOCAL", "paraformer-v1", log)
	timeoutSec := utils.GetEnvAsInt("ASR_TIMEOUT", 600, log)

	return &asrService{
		log:        serviceLog,
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		localModel: localModel,
		timeout:    time.Duration(timeoutSec) * time.Second,
		pollEvery:  1500 * time.Millisecond,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type asrTaskOutput struct {
	TaskID        string `json:"task_id"`
	TaskStatus    string `json:"task_status"`
	StatusMessage string `json:"status_message"`
	Results       []struct {
		SubtaskStatus    string `json:"subtask_status"`
		TranscriptionURL string `json:"transcription_url"`
		ErrorMessage     string `json:"message"`
	} `json:"results"`
}

type asrTaskEnvelope struct {
	TaskID string        `json:"task_id"`
	Output asrTaskOutput `json:"output"`
}

func (s *asrService) modelFor(audioURL string) string {
	if strings.HasPrefix(audioURL, "oss://") {
		return s.localModel
	}
	return s.model
}

func (s *asrService) submit(ctx context.Context, audioURL, model string) (string, error) {
	payload := map[string]any{
		"model": model,
		"input": map[string]any{"file_urls": []string{audioURL}},
	}
	if strings.Contains(model, "paraformer") {
		payload["parameters"] = map[string]any{"language_hints": []string{"zh", "en"}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBaseURL+"/services/audio/asr/transcription", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DashScope-Async", "enable")
	if strings.HasPrefix(audioURL, "oss://") {
		req.Header.Set("X-DashScope-OssResourceResolve", "enable")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("asr submit: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("asr submit status=%d body=%s", resp.StatusCode, truncate(string(raw), 300))
	}

	var env asrTaskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("asr submit decode: %w", err)
	}
	taskID := env.Output.TaskID
	if taskID == "" {
		taskID = env.TaskID
	}
	if taskID == "" {
		return "", fmt.Errorf("asr submit returned no task_id")
	}
	return taskID, nil
}

func (s *asrService) fetchTask(ctx context.Context, taskID string) (*asrTaskOutput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiBaseURL+"/tasks/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asr fetch task: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("asr fetch status=%d body=%s", resp.StatusCode, truncate(string(raw), 300))
	}
	var env asrTaskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("asr fetch decode: %w", err)
	}
	return &env.Output, nil
}

func (s *asrService) TranscribeURL(ctx context.Context, audioURL string) (string, error) {
	model := s.modelFor(audioURL)
	taskID, err := s.submit(ctx, audioURL, model)
	if err != nil {
		return "", err
	}
	s.log.Info("ASR task submitted", "task_id", taskID, "model", model)

	deadline := time.Now().Add(s.timeout)
	var output *asrTaskOutput
	for {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("asr task %s timed out after %s", taskID, s.timeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollEvery):
		}

		output, err = s.fetchTask(ctx, taskID)
		if err != nil {
			s.log.Warn("ASR task poll failed", "task_id", taskID, "error", err.Error())
			continue
		}
		if output.TaskStatus == "SUCCEEDED" || output.TaskStatus == "FAILED" {
			break
		}
	}

	s.log.Info("ASR task finished",
		"task_id", taskID,
		"task_status", output.TaskStatus,
		"status_message", output.StatusMessage,
		"results", len(output.Results),
	)

	for _, item := range output.Results {
		if item.SubtaskStatus == "SUCCEEDED" && item.TranscriptionURL != "" {
			return s.downloadTranscription(ctx, item.TranscriptionURL)
		}
		if item.ErrorMessage != "" {
			s.log.Warn("ASR subtask failed", "task_id", taskID, "subtask_status", item.SubtaskStatus, "error", item.ErrorMessage)
		}
	}
	return "", fmt.Errorf("asr task %s produced no transcript (status=%s message=%s)", taskID, output.TaskStatus, output.StatusMessage)
}

func (s *asrService) downloadTranscription(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download transcript status=%d", resp.StatusCode)
	}

	var doc struct {
		Text        string `json:"text"`
		Transcripts []struct {
			Text      string `json:"text"`
			Sentences []struct {
				Text string `json:"text"`
			} `json:"sentences"`
		} `json:"transcripts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}

	var texts []string
	for _, item := range doc.Transcripts {
		if item.Text != "" {
			texts = append(texts, item.Text)
			continue
		}
		for _, sentence := range item.Sentences {
			if sentence.Text != "" {
				texts = append(texts, sentence.Text)
			}
		}
	}
	if len(texts) == 0 && doc.Text != "" {
		texts = append(texts, doc.Text)
	}
	joined := strings.TrimSpace(strings.Join(texts, "\n"))
	if joined == "" {
		return "", fmt.Errorf("transcript document contained no text")
	}
	return joined, nil
}

type uploadPolicy struct {
	Data struct {
		Policy           string `json:"policy"`
		Signature        string `json:"signature"`
		UploadDir        string `json:"upload_dir"`
		UploadHost       string `json:"upload_host"`
		OssAccessKeyID   string `json:"oss_access_key_id"`
		XOssObjectACL    string `json:"x_oss_object_acl"`
		XOssForbidOverwr string `json:"x_oss_forbid_overwrite"`
	} `json:"data"`
}

// UploadTempFile implements the two-step temporary upload: fetch a signed
// policy for the target model, then POST the file to the returned OSS host.
func (s *asrService) UploadTempFile(ctx context.Context, filePath string) (string, error) {
	if _, err := os.Stat(filePath); err != nil {
		return "", fmt.Errorf("upload source missing: %w", err)
	}

	policyURL := s.apiBaseURL + "/uploads?action=getPolicy&model=" + s.localModel
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, policyURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("get upload policy: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get upload policy status=%d body=%s", resp.StatusCode, truncate(string(raw), 300))
	}
	var policy uploadPolicy
	if err := json.Unmarshal(raw, &policy); err != nil {
		return "", fmt.Errorf("decode upload policy: %w", err)
	}
	if policy.Data.UploadHost == "" || policy.Data.UploadDir == "" {
		return "", fmt.Errorf("upload policy incomplete")
	}

	key := policy.Data.UploadDir + "/" + filepath.Base(filePath)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"OSSAccessKeyId":         policy.Data.OssAccessKeyID,
		"Signature":              policy.Data.Signature,
		"policy":                 policy.Data.Policy,
		"key":                    key,
		"x-oss-object-acl":       policy.Data.XOssObjectACL,
		"x-oss-forbid-overwrite": policy.Data.XOssForbidOverwr,
		"success_action_status":  "200",
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return "", err
		}
	}
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return "", err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("stream upload body: %w", err)
	}
	_ = f.Close()
	if err := writer.Close(); err != nil {
		return "", err
	}

	uploadReq, err := http.NewRequestWithContext(ctx, http.MethodPost, policy.Data.UploadHost, &body)
	if err != nil {
		return "", err
	}
	uploadReq.Header.Set("Content-Type", writer.FormDataContentType())

	uploadResp, err := s.httpClient.Do(uploadReq)
	if err != nil {
		return "", fmt.Errorf("oss upload: %w", err)
	}
	defer uploadResp.Body.Close()
	if uploadResp.StatusCode < 200 || uploadResp.StatusCode >= 300 {
		return "", fmt.Errorf("oss upload status=%d", uploadResp.StatusCode)
	}

	ossURL := "oss://" + key
	s.log.Info("ASR temp file uploaded", "oss_url", ossURL)
	return ossURL, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
