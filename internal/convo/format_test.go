package convo

import (
	"strings"
	"testing"

	"trocswap-bot/internal/repo"
)

func TestParseValue(t *testing.T) {
	cases := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"500", 500, false},
		{" 1.500 ", 1500, false},
		{"2k", 2000, false},
		{"environ 750 bamekaps", 750, false},
		{"0", 0, true},
		{"gratuit", 0, true},
		{"", 0, true},
		// 1-2 digit trailing groups are decimals, not thousands.
		{"1.5", 0, true},
		{"2,50", 0, true},
	}

	for _, tc := range cases {
		got, err := parseValue(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseValue(%q): expected error, got %d", tc.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseValue(%q): %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseValue(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func TestParseChoice(t *testing.T) {
	if _, ok := parseChoice("0", 3); ok {
		t.Error("choice 0 should be rejected")
	}
	if _, ok := parseChoice("4", 3); ok {
		t.Error("choice beyond the list should be rejected")
	}
	if _, ok := parseChoice("abc", 3); ok {
		t.Error("non-numeric choice should be rejected")
	}
	idx, ok := parseChoice(" 2 ", 3)
	if !ok || idx != 1 {
		t.Errorf("parseChoice(\" 2 \") = %d, %v", idx, ok)
	}
}

func TestFormatCatalog(t *testing.T) {
	if got := formatCatalog(nil); !strings.Contains(got, "Aucun article") {
		t.Errorf("empty catalog message: %q", got)
	}

	items := []repo.Item{
		{Name: "Vélo", Value: 500, Category: "sport"},
		{Name: "Guitare", Value: 300},
	}
	got := formatCatalog(items)
	for _, want := range []string{"*1.* Vélo", "500 bamekaps", "[sport]", "*2.* Guitare"} {
		if !strings.Contains(got, want) {
			t.Errorf("catalog missing %q:\n%s", want, got)
		}
	}
}

func TestTradeActionsFollowStatusAndRole(t *testing.T) {
	tr := &repo.Trade{
		ID:          "t1",
		InitiatorID: "init",
		RecipientID: "rcpt",
		PayerID:     "init",
		Status:      "pending_acceptance",
	}

	if got := tradeActions(tr, "rcpt"); len(got) != 2 {
		t.Errorf("recipient on pending trade should accept or cancel, got %v", got)
	}
	if got := tradeActions(tr, "init"); len(got) != 1 {
		t.Errorf("initiator on pending trade should only cancel, got %v", got)
	}

	tr.Status = "awaiting_deposit"
	if got := tradeActions(tr, "init"); len(got) != 2 {
		t.Errorf("payer should deposit or cancel, got %v", got)
	}
	if got := tradeActions(tr, "rcpt"); len(got) != 1 {
		t.Errorf("payee should only cancel while awaiting deposit, got %v", got)
	}

	tr.Status = "awaiting_confirmation"
	if got := tradeActions(tr, "rcpt"); len(got) != 1 {
		t.Errorf("payee should confirm receipt, got %v", got)
	}
	if got := tradeActions(tr, "init"); len(got) != 0 {
		t.Errorf("payer has no action while awaiting confirmation, got %v", got)
	}

	tr.Status = "completed"
	if got := tradeActions(tr, "rcpt"); len(got) != 0 {
		t.Errorf("terminal trades have no actions, got %v", got)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}
