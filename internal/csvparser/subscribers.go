// Package csvparser reads membership exports into subscribers. The header
// row must contain an Email column; Name, Tier, Status and a member id
// column are optional and matched case-insensitively.
package csvparser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"MemberSend/internal/models"
)

const DefaultMaxRows = 10000

var (
	ErrNoEmailColumn = errors.New("csv must contain an Email column")
	ErrNoRows        = errors.New("csv must contain at least one data row")
)

type columns struct {
	email, name, tier, status, memberID int
}

// RowError describes a data row that was skipped.
type RowError struct {
	Line   int
	Reason string
}

type Result struct {
	Subscribers []models.Subscriber
	Skipped     []RowError
}

// ParseSubscribers parses at most maxRows data rows. Malformed rows and rows
// without a usable email are skipped and reported, not fatal. Emails are
// normalized and repeated addresses keep their first occurrence.
func ParseSubscribers(r io.Reader, maxRows int) (*Result, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	cols, err := mapColumns(headers)
	if err != nil {
		return nil, err
	}

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	res := &Result{}
	seen := make(map[string]bool)

	for len(res.Subscribers) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.Skipped = append(res.Skipped, RowError{Line: perr.Line, Reason: perr.Err.Error()})
				continue
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if len(record) != len(headers) {
			res.Skipped = append(res.Skipped, RowError{Line: line, Reason: "wrong number of fields"})
			continue
		}

		email := models.NormalizeEmail(record[cols.email])
		if !strings.Contains(email, "@") {
			res.Skipped = append(res.Skipped, RowError{Line: line, Reason: "missing or invalid email"})
			continue
		}
		if seen[email] {
			continue
		}
		seen[email] = true

		sub := models.Subscriber{
			Email:            email,
			Name:             field(record, cols.name),
			Tier:             field(record, cols.tier),
			ExternalMemberID: field(record, cols.memberID),
			Status:           models.SubscriberActive,
			Source:           models.SourceImport,
		}
		if status := strings.ToLower(field(record, cols.status)); status == string(models.SubscriberInactive) {
			sub.Status = models.SubscriberInactive
		}

		res.Subscribers = append(res.Subscribers, sub)
	}

	if len(res.Subscribers) == 0 {
		return nil, ErrNoRows
	}

	return res, nil
}

func mapColumns(headers []string) (columns, error) {
	cols := columns{email: -1, name: -1, tier: -1, status: -1, memberID: -1}

	for i, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)

		switch key {
		case "email", "emailaddress":
			cols.email = i
		case "name", "fullname":
			cols.name = i
		case "tier", "membershiptier":
			cols.tier = i
		case "status":
			cols.status = i
		case "externalmemberid", "memberid":
			cols.memberID = i
		}
	}

	if cols.email == -1 {
		return cols, ErrNoEmailColumn
	}

	return cols, nil
}

func field(record []string, idx int) string {
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
