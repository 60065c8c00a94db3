package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Usage reports the caller's plan limits and current ledger usage.
func (a *App) Usage(w http.ResponseWriter, r *http.Request) {
	acc, ok := a.account(w, r)
	if !ok {
		return
	}
	u := a.Jobs.Usage(acc.ID)
	resp := map[string]any{
		"plan":            acc.Plan,
		"max_concurrent":  acc.MaxConcurrent,
		"active":          u.Active,
		"completed_today": u.CompletedToday,
	}
	if acc.Unlimited() {
		resp["daily_quota"] = nil
		resp["remaining_today"] = nil
	} else {
		resp["daily_quota"] = acc.DailyQuota
		resp["remaining_today"] = max(acc.DailyQuota-u.CompletedToday-u.Active, 0)
	}
	a.json(w, http.StatusOK, resp)
}
