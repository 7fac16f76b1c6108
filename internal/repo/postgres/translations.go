package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

type translationTable struct {
	name   string
	fields []string
}

var translationTables = map[repo.TranslationKind]translationTable{
	repo.TranslateProduct: {name: "product_translations", fields: []string{"title", "short_description", "description", "click_through_agreement"}},
	repo.TranslateVersion: {name: "version_translations", fields: []string{"description"}},
	repo.TranslatePlan:    {name: "plan_translations", fields: []string{"title", "preflight_message", "post_install_message"}},
	repo.TranslateStep:    {name: "step_translations", fields: []string{"name", "description"}},
}

type TranslationStore struct {
	db DB
}

func NewTranslationStore(db DB) *TranslationStore {
	if db == nil {
		return nil
	}
	return &TranslationStore{db: db}
}

func tableFor(kind repo.TranslationKind) (translationTable, error) {
	table, ok := translationTables[kind]
	if !ok {
		return translationTable{}, fmt.Errorf("unknown translation kind %q", kind)
	}
	return table, nil
}

func buildTranslationUpsert(table translationTable) string {
	cols := append([]string{"language_code", "master_id"}, table.fields...)
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sets := make([]string, len(table.fields))
	for i, f := range table.fields {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", f, f)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (language_code, master_id) DO UPDATE SET %s",
		table.name,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ","),
		strings.Join(sets, ", "),
	)
}

func (s *TranslationStore) Upsert(ctx context.Context, kind repo.TranslationKind, tr domain.Translation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("translation store not initialized")
	}
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	masterID, err := requireID(string(kind), tr.MasterID)
	if err != nil {
		return err
	}
	args := []any{domain.NormalizeLanguage(tr.LanguageCode), masterID}
	for _, f := range table.fields {
		if v, ok := tr.Fields[f]; ok {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
	}
	if _, err := s.db.ExecContext(ctx, buildTranslationUpsert(table), args...); err != nil {
		return fmt.Errorf("upsert %s: %w", table.name, err)
	}
	return nil
}

// Lookup prefers lang and falls back to the default language per master row.
func (s *TranslationStore) Lookup(ctx context.Context, kind repo.TranslationKind, lang string, masterIDs []string) (map[string]domain.Translation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("translation store not initialized")
	}
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	out := map[string]domain.Translation{}
	if len(masterIDs) == 0 {
		return out, nil
	}
	lang = domain.NormalizeLanguage(lang)
	query := fmt.Sprintf(
		"SELECT language_code, master_id, %s FROM %s WHERE master_id = ANY($1) AND language_code IN ($2, $3)",
		strings.Join(table.fields, ", "),
		table.name,
	)
	rows, err := s.db.QueryContext(ctx, query, masterIDs, lang, domain.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", table.name, err)
	}
	defer rows.Close()

	for rows.Next() {
		values := make([]sql.NullString, len(table.fields))
		var tr domain.Translation
		dest := []any{&tr.LanguageCode, &tr.MasterID}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table.name, err)
		}
		tr.Fields = map[string]string{}
		for i, f := range table.fields {
			if values[i].Valid {
				tr.Fields[f] = values[i].String
			}
		}
		if existing, ok := out[tr.MasterID]; ok && existing.LanguageCode == lang {
			continue
		}
		out[tr.MasterID] = tr
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", table.name, err)
	}
	return out, nil
}
