package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sprintscope/backend/internal/domain"
	"sprintscope/backend/internal/ports"
)

const selectionSchema = `
CREATE TABLE IF NOT EXISTS board_selections (
  board_id           INTEGER PRIMARY KEY,
  member_account_ids TEXT NOT NULL DEFAULT '[]',
  manual_members     TEXT NOT NULL DEFAULT '[]',
  updated_at         INTEGER NOT NULL
);
`

// SelectionStore persists per-board member selections in SQLite.
type SelectionStore struct {
	sqlDB *sql.DB
}

var _ ports.SelectionStore = (*SelectionStore)(nil)

// OpenSelectionStore opens the SQLite handle and ensures the schema.
func OpenSelectionStore(path string) (*SelectionStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("selection store path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open selection store: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping selection store: %w", err)
	}
	if _, err := sqlDB.Exec(selectionSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply selection schema: %w", err)
	}
	return &SelectionStore{sqlDB: sqlDB}, nil
}

func (s *SelectionStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetSelection returns the stored selection for a board. A board with no
// stored row yields an empty selection, not an error.
func (s *SelectionStore) GetSelection(ctx context.Context, boardID int) (domain.Selection, error) {
	if err := ctx.Err(); err != nil {
		return domain.Selection{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Selection{}, fmt.Errorf("selection store is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT member_account_ids, manual_members
		   FROM board_selections
		  WHERE board_id = ?`,
		boardID,
	)

	var accountIDs string
	var manualMembers string
	if err := row.Scan(&accountIDs, &manualMembers); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Selection{BoardID: boardID}, nil
		}
		return domain.Selection{}, fmt.Errorf("get selection: %w", err)
	}

	selection := domain.Selection{BoardID: boardID}
	if err := json.Unmarshal([]byte(accountIDs), &selection.MemberAccountIDs); err != nil {
		return domain.Selection{}, fmt.Errorf("decode selection members: %w", err)
	}
	if err := json.Unmarshal([]byte(manualMembers), &selection.ManualMembers); err != nil {
		return domain.Selection{}, fmt.Errorf("decode manual members: %w", err)
	}
	return selection, nil
}

func (s *SelectionStore) PutSelection(ctx context.Context, selection domain.Selection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("selection store is not configured")
	}
	if selection.BoardID <= 0 {
		return fmt.Errorf("put selection: board id is required: %w", domain.ErrValidation)
	}

	accountIDs, err := json.Marshal(emptyIfNilStrings(selection.MemberAccountIDs))
	if err != nil {
		return fmt.Errorf("encode selection members: %w", err)
	}
	manualMembers, err := json.Marshal(emptyIfNilContributors(selection.ManualMembers))
	if err != nil {
		return fmt.Errorf("encode manual members: %w", err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO board_selections (board_id, member_account_ids, manual_members, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(board_id) DO UPDATE SET
		   member_account_ids = excluded.member_account_ids,
		   manual_members     = excluded.manual_members,
		   updated_at         = excluded.updated_at`,
		selection.BoardID,
		string(accountIDs),
		string(manualMembers),
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put selection: %w", err)
	}
	return nil
}

func emptyIfNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func emptyIfNilContributors(values []domain.Contributor) []domain.Contributor {
	if values == nil {
		return []domain.Contributor{}
	}
	return values
}
