package parser

import (
	"errors"
	"testing"

	"github.com/insightdelivered/statement-ledger/internal/models"
)

func TestAutoDetect(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		code    string
		kind    models.AccountKind
		subType string
	}{
		{
			name: "td visa",
			text: "TD Aeroplan Visa Infinite\nPrevious Balance $1,200.00\nMinimum Payment $10.00\nCredit Limit $5,000",
			code: "td-visa", kind: models.AccountLiability, subType: "Visa",
		},
		{
			name: "td chequing",
			text: "TD Canada Trust\nEvery Day Chequing Account\nOpening Balance 100.00\nClosing Balance 80.00",
			code: "td-chequing", kind: models.AccountAsset, subType: "Chequing",
		},
		{
			name: "amex always card",
			text: "American Express\nOpening balance",
			code: "amex", kind: models.AccountLiability, subType: "Amex",
		},
		{
			name: "metro bank",
			text: "Metro Bank\nDate Description Paid out Paid in Balance",
			code: "metro", kind: models.AccountAsset, subType: "Chequing",
		},
		{
			name: "rbc savings",
			text: "RBC Royal Bank\nHigh Interest Savings Account\nOpening balance",
			code: "rbc-chequing", kind: models.AccountAsset, subType: "Savings",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, err := AutoDetect(tt.text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if det.Code != tt.code || det.Kind != tt.kind || det.SubType != tt.subType {
				t.Errorf("got code=%s kind=%s subType=%s, want %s %s %s",
					det.Code, det.Kind, det.SubType, tt.code, tt.kind, tt.subType)
			}
		})
	}
}

func TestAutoDetect_Unknown(t *testing.T) {
	det, err := AutoDetect("Some Credit Union\nMar 02 COFFEE 4.50")
	if !errors.Is(err, ErrUnknownInstitution) {
		t.Fatalf("got %v, want ErrUnknownInstitution", err)
	}
	if det.Code != "generic" {
		t.Errorf("code: got %q, want generic", det.Code)
	}
}

func TestNew(t *testing.T) {
	for _, code := range Codes() {
		p, err := New(code)
		if err != nil {
			t.Errorf("New(%q): %v", code, err)
			continue
		}
		if p.Code() != code {
			t.Errorf("New(%q).Code() = %q", code, p.Code())
		}
	}
	if _, err := New("nope"); !errors.Is(err, ErrUnknownInstitution) {
		t.Errorf("New(nope): got %v", err)
	}
}
