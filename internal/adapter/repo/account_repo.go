package repo

import (
	"context"

	"mediaflow/internal/domain"
	"mediaflow/internal/infra"
	"mediaflow/internal/sqlinline"
)

// AccountRepositoryPG implements domain.AccountRepository backed by PostgreSQL.
type AccountRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAccountRepository creates a new AccountRepositoryPG.
func NewAccountRepository(sql infra.SQLExecutor) *AccountRepositoryPG {
	return &AccountRepositoryPG{sql: sql}
}

// Get fetches an account by id.
func (r *AccountRepositoryPG) Get(ctx context.Context, id string) (*domain.Account, error) {
	var (
		account domain.Account
		plan    string
	)
	err := r.sql.QueryRow(ctx, sqlinline.QSelectAccount, id).Scan(
		&account.ID,
		&plan,
		&account.DailyQuota,
		&account.MaxConcurrent,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	account.Plan = domain.Plan(plan)
	return &account, nil
}

// Upsert inserts the account or overwrites its plan and limits.
func (r *AccountRepositoryPG) Upsert(ctx context.Context, account *domain.Account) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpsertAccount,
		account.ID,
		string(account.Plan),
		account.DailyQuota,
		account.MaxConcurrent,
	)
	return err
}

// SetPlan switches an existing account to plan with the given limits.
func (r *AccountRepositoryPG) SetPlan(ctx context.Context, id string, plan domain.Plan, limits domain.PlanLimits) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QSetAccountPlan, id, string(plan), limits.DailyQuota, limits.MaxConcurrent)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
