package main

// Batch mode: one CSV row per permission, all signed in a single Approval.
// Row: token,spender,amount[,hours]. amount "unlimited" requests an unlimited grant.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/permit-kit/internal/permit"
)

type decimalsFunc func(token common.Address) (int, error)

func parseBatchCSV(r io.Reader, now time.Time, defaultHours int64, decimals decimalsFunc) ([]permit.PermissionInput, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	out := make([]permit.PermissionInput, 0, len(rows))
	for i, row := range rows {
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		// header line
		if i == 0 && !common.IsHexAddress(strings.TrimSpace(row[0])) {
			continue
		}
		in, err := parseBatchRow(row, now, defaultHours, decimals)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, in)
	}
	if len(out) == 0 {
		return nil, errors.New("CSV has no permission rows")
	}
	return out, nil
}

func parseBatchRow(row []string, now time.Time, defaultHours int64, decimals decimalsFunc) (permit.PermissionInput, error) {
	if len(row) < 3 {
		return permit.PermissionInput{}, fmt.Errorf("want token,spender,amount[,hours], got %d fields", len(row))
	}
	token := strings.TrimSpace(row[0])
	in := permit.PermissionInput{Token: token, Spender: strings.TrimSpace(row[1])}

	hours := defaultHours
	if len(row) > 3 && strings.TrimSpace(row[3]) != "" {
		h, err := strconv.ParseInt(strings.TrimSpace(row[3]), 10, 64)
		if err != nil {
			return permit.PermissionInput{}, fmt.Errorf("bad hours %q", row[3])
		}
		hours = h
	}
	dl, err := permit.ComputeDeadline(now, hours)
	if err != nil {
		return permit.PermissionInput{}, err
	}
	in.Deadline = dl

	amount := strings.TrimSpace(row[2])
	if strings.EqualFold(amount, "unlimited") {
		in.Unlimited = true
		return in, nil
	}
	if !common.IsHexAddress(token) {
		return permit.PermissionInput{}, fmt.Errorf("bad token address %q", token)
	}
	dec, err := decimals(common.HexToAddress(token))
	if err != nil {
		return permit.PermissionInput{}, fmt.Errorf("decimals of %s: %w", token, err)
	}
	v, err := toWeiFromTokens(amount, dec)
	if err != nil {
		return permit.PermissionInput{}, err
	}
	in.Amount = v
	return in, nil
}
