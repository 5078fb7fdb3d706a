package httpx

import (
	"encoding/json"
	"time"

	"github.com/hmellak/aistudio/internal/domain"
	"github.com/hmellak/aistudio/internal/service/auth"
)

func marshalUser(user *domain.User) map[string]any {
	return map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"created_at": user.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": user.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func marshalTokens(tokens auth.TokenPair) map[string]any {
	return map[string]any{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_in":    int64(tokens.ExpiresIn.Seconds()),
	}
}

func marshalProject(p domain.Project) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"user_id":     p.UserID,
		"name":        p.Name,
		"description": p.Description,
		"status":      p.Status,
		"created_at":  p.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":  p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func marshalRun(run domain.AgentRun) map[string]any {
	item := map[string]any{
		"id":            run.ID,
		"project_id":    run.ProjectID,
		"agent_type":    run.AgentType,
		"status":        run.Status,
		"input_data":    rawOrNull(run.Input),
		"output_data":   rawOrNull(run.Output),
		"started_at":    run.StartedAt.UTC().Format(time.RFC3339Nano),
		"completed_at":  nil,
		"error_message": nil,
	}
	if run.CompletedAt != nil {
		item["completed_at"] = run.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	if run.ErrorMessage != nil {
		item["error_message"] = *run.ErrorMessage
	}
	return item
}

func marshalUsageLog(entry domain.UsageLog) map[string]any {
	return map[string]any{
		"id":         entry.ID,
		"user_id":    entry.UserID,
		"action":     entry.Action,
		"details":    rawOrNull(entry.Details),
		"created_at": entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// rawOrNull passes stored JSON through untouched.
func rawOrNull(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(raw)
}
