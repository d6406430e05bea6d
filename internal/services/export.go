package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/soaringjerry/mofasa/internal/models"
)

// LongRow is one answer in long format.
type LongRow struct {
	Project     string
	ScopeNumber int
	Participant string
	Section     string
	Question    string
	Value       string
}

// AnswerRows flattens a project tree into one row per answer, ordered by
// scope, participant, section order and question key.
func AnswerRows(p *models.Project) ([]LongRow, error) {
	var rows []LongRow
	scopes := append([]models.Scope(nil), p.Scopes...)
	sort.SliceStable(scopes, func(i, j int) bool { return scopes[i].ScopeNumber < scopes[j].ScopeNumber })
	for _, sc := range scopes {
		for _, part := range sc.Participants {
			sections := make([]string, 0, len(part.Answers))
			for sec := range part.Answers {
				sections = append(sections, sec)
			}
			sort.SliceStable(sections, func(i, j int) bool {
				ri, rj := sectionRank(sections[i]), sectionRank(sections[j])
				if ri != rj {
					return ri < rj
				}
				return sections[i] < sections[j]
			})
			for _, sec := range sections {
				keys := make([]string, 0, len(part.Answers[sec]))
				for k := range part.Answers[sec] {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					v, err := cellValue(part.Answers[sec][k])
					if err != nil {
						return nil, fmt.Errorf("%s %s/%s: %w", part.ParticipantID, sec, k, err)
					}
					rows = append(rows, LongRow{
						Project:     p.Name,
						ScopeNumber: sc.ScopeNumber,
						Participant: part.ParticipantID,
						Section:     sec,
						Question:    k,
						Value:       v,
					})
				}
			}
		}
	}
	return rows, nil
}

// ExportLongCSV renders rows into a long-format CSV.
func ExportLongCSV(rows []LongRow) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"project", "scope", "participant", "section", "question", "value"})
	for _, r := range rows {
		rec := []string{
			r.Project,
			strconv.Itoa(r.ScopeNumber),
			r.Participant,
			r.Section,
			r.Question,
			r.Value,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportAnswersCSV renders every answer of a project as long-format CSV.
func ExportAnswersCSV(p *models.Project) ([]byte, error) {
	if p == nil {
		return nil, NewInvalidError("project required")
	}
	rows, err := AnswerRows(p)
	if err != nil {
		return nil, err
	}
	return ExportLongCSV(rows)
}

// cellValue keeps strings as they are; anything structured is JSON text.
func cellValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
