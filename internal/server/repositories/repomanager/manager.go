package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/subpool/internal/dbx"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/auditlog"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/grants"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/groups"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/ledger"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/memberships"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/users"
	"github.com/dmitrijs2005/subpool/internal/server/repositories/withdrawals"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Groups(db dbx.DBTX) groups.Repository
	Memberships(db dbx.DBTX) memberships.Repository
	Credentials(db dbx.DBTX) credentials.Repository
	Grants(db dbx.DBTX) grants.Repository
	Ledger(db dbx.DBTX) ledger.Repository
	Withdrawals(db dbx.DBTX) withdrawals.Repository
	AuditLog(db dbx.DBTX) auditlog.Repository
}
