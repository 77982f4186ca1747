package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/makeasinger/orchestrator/internal/model"
)

// StatusResult is the one shape the rest of the service sees for both poll
// responses and push callbacks.
type StatusResult struct {
	TaskID       string
	Status       model.ServiceStatus
	RawStatus    string
	Items        []ItemResult
	ErrorMessage string
}

// ItemResult is one finished track as reported by the provider.
type ItemResult struct {
	ID        string
	Title     string
	AudioURL  string
	ImageURL  string
	Duration  float64
	Tags      []string
	CreatedAt time.Time
}

var (
	taskIDPaths = []string{"data.taskId", "data.task_id", "taskId", "task_id"}
	statusPaths = []string{"data.status", "data.callbackType", "status", "callbackType"}
	itemPaths   = []string{"data.response.sunoData", "data.response.data", "data.data", "data.items", "items", "data"}
	errorPaths  = []string{"data.errorMessage", "errorMessage", "error.message"}

	audioKeys = []string{"audioUrl", "audio_url", "sourceAudioUrl", "source_audio_url", "streamAudioUrl", "stream_audio_url", "mediaUrl"}
	imageKeys = []string{"imageUrl", "image_url", "sourceImageUrl", "source_image_url"}
	timeKeys  = []string{"createTime", "create_time", "createdAt", "created_at"}
)

// NormalizeStatus turns any of the provider's response nestings into a StatusResult.
func NormalizeStatus(body []byte) (*StatusResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed status payload", model.ErrServiceUnavailable)
	}
	root := gjson.ParseBytes(body)

	result := &StatusResult{
		TaskID:    firstString(root, taskIDPaths...),
		RawStatus: firstString(root, statusPaths...),
		Items:     parseItems(root),
	}
	result.Status = MapStatus(result.RawStatus)

	if result.Status == model.ServiceStatusUnknown && len(result.Items) > 0 && allPlayable(result.Items) {
		result.Status = model.ServiceStatusSuccess
	}
	if result.Status.IsFailure() {
		result.ErrorMessage = firstString(root, errorPaths...)
		if result.ErrorMessage == "" {
			result.ErrorMessage = root.Get("msg").String()
		}
	}
	return result, nil
}

// ParseCallback normalizes a push callback body. Callbacks must name their task.
func ParseCallback(body []byte) (*StatusResult, error) {
	result, err := NormalizeStatus(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}
	if result.TaskID == "" {
		return nil, fmt.Errorf("%w: callback without task id", model.ErrInvalidRequest)
	}
	return result, nil
}

// MapStatus folds the provider's status vocabulary onto ServiceStatus.
func MapStatus(raw string) model.ServiceStatus {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch s {
	case "":
		return model.ServiceStatusUnknown
	case "SUCCESS", "COMPLETE", "COMPLETED", "SUCCEEDED":
		return model.ServiceStatusSuccess
	case "PENDING", "QUEUED", "RUNNING", "GENERATING", "PROCESSING", "TEXT", "FIRST",
		"TEXT_SUCCESS", "FIRST_SUCCESS":
		return model.ServiceStatusPending
	case "ERROR", "CALLBACK_EXCEPTION":
		return model.ServiceStatusError
	}
	if strings.HasSuffix(s, "_FAILED") || s == "FAILED" || strings.HasSuffix(s, "_ERROR") {
		return model.ServiceStatusFailed
	}
	return model.ServiceStatusPending
}

func parseItems(root gjson.Result) []ItemResult {
	var arr gjson.Result
	for _, p := range itemPaths {
		if r := root.Get(p); r.IsArray() {
			arr = r
			break
		}
	}
	if !arr.Exists() {
		return nil
	}

	var items []ItemResult
	seen := make(map[string]struct{})
	arr.ForEach(func(_, v gjson.Result) bool {
		id := firstString(v, "id", "itemId", "audioId", "clipId")
		if id == "" {
			return true
		}
		if _, dup := seen[id]; dup {
			return true
		}
		seen[id] = struct{}{}
		items = append(items, ItemResult{
			ID:        id,
			Title:     v.Get("title").String(),
			AudioURL:  firstString(v, audioKeys...),
			ImageURL:  firstString(v, imageKeys...),
			Duration:  v.Get("duration").Float(),
			Tags:      parseTags(v.Get("tags")),
			CreatedAt: parseTime(v, timeKeys...),
		})
		return true
	})
	return items
}

func allPlayable(items []ItemResult) bool {
	for _, it := range items {
		if it.AudioURL == "" {
			return false
		}
	}
	return true
}

func parseTags(v gjson.Result) []string {
	if v.IsArray() {
		var raw []string
		for _, t := range v.Array() {
			raw = append(raw, t.String())
		}
		return model.NormalizeTags(raw...)
	}
	return model.NormalizeTags(v.String())
}

func parseTime(v gjson.Result, keys ...string) time.Time {
	for _, k := range keys {
		r := v.Get(k)
		if !r.Exists() {
			continue
		}
		if r.Type == gjson.Number {
			n := r.Int()
			if n > 1e12 {
				return time.UnixMilli(n).UTC()
			}
			return time.Unix(n, 0).UTC()
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, r.String()); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

func firstString(v gjson.Result, paths ...string) string {
	for _, p := range paths {
		r := v.Get(p)
		if r.Exists() && r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	return ""
}
