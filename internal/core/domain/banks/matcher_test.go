package banks

import (
	"testing"

	"thb-mmk-exchange-bot/internal/core/domain/exchange"
)

var testAccounts = []Account{
	{
		ID:            1,
		BankName:      "Siam Commercial Bank",
		AccountNumber: "1234567890",
		AccountName:   "Somchai Jaidee",
		Currency:      exchange.THB,
		Active:        true,
	},
	{
		ID:            2,
		BankName:      "Kasikorn Bank",
		AccountNumber: "9876543210",
		AccountName:   "Aung Kyaw",
		Currency:      exchange.THB,
		Active:        true,
	},
}

func TestMatchExactFields(t *testing.T) {
	res := Match("1234567890", "Somchai Jaidee", "Siam Commercial Bank", testAccounts, DefaultWeights)

	if res.Account == nil || res.Account.ID != 1 {
		t.Fatalf("matched account = %+v, want ID 1", res.Account)
	}
	if res.Score < 0.99 {
		t.Errorf("Score = %v, want ~1.0", res.Score)
	}
}

func TestMatchMaskedAccountNumber(t *testing.T) {
	res := Match("123xxx7890", "Somchai Jaidee", "SCB", testAccounts, DefaultWeights)

	if res.Account == nil || res.Account.ID != 1 {
		t.Fatalf("matched account = %+v, want ID 1", res.Account)
	}
	if res.NumberScore != 1.0 {
		t.Errorf("NumberScore = %v, want 1.0 for masked match", res.NumberScore)
	}
}

func TestMatchLastFourDigits(t *testing.T) {
	res := Match("7890", "", "", testAccounts, DefaultWeights)

	if res.Account == nil || res.Account.ID != 1 {
		t.Fatalf("matched account = %+v, want ID 1", res.Account)
	}
	if res.NumberScore != 0.7 {
		t.Errorf("NumberScore = %v, want 0.7 for last-4 match", res.NumberScore)
	}
}

func TestMatchBankAbbreviation(t *testing.T) {
	res := Match("", "", "KBANK", testAccounts, DefaultWeights)

	if res.Account == nil || res.Account.ID != 2 {
		t.Fatalf("matched account = %+v, want ID 2", res.Account)
	}
	if res.BankScore != 1.0 {
		t.Errorf("BankScore = %v, want 1.0 for abbreviation", res.BankScore)
	}
}

func TestMatchHonorificStripped(t *testing.T) {
	res := Match("", "Mr. Somchai Jaidee", "", testAccounts, DefaultWeights)

	if res.Account == nil || res.Account.ID != 1 {
		t.Fatalf("matched account = %+v, want ID 1", res.Account)
	}
	if res.NameScore < 0.99 {
		t.Errorf("NameScore = %v, want ~1.0 after honorific strip", res.NameScore)
	}
}

func TestMatchWeightsApplied(t *testing.T) {
	// Только номер совпал: итог должен равняться весу номера
	res := Match("1234567890", "zzzz", "zzzz", testAccounts[:1], DefaultWeights)

	if res.NumberScore != 1.0 {
		t.Fatalf("NumberScore = %v, want 1.0", res.NumberScore)
	}
	low := res.Score - DefaultWeights.AccountNumber
	if low < 0 {
		low = -low
	}
	// Левенштейн по мусорным строкам дает близкий к нулю, но не нулевой вклад
	if low > 0.15 {
		t.Errorf("Score = %v, want near %v", res.Score, DefaultWeights.AccountNumber)
	}
}

func TestMatchEmptyAccounts(t *testing.T) {
	res := Match("1234567890", "Somchai", "SCB", nil, DefaultWeights)

	if res.Account != nil {
		t.Errorf("Account = %+v, want nil", res.Account)
	}
	if res.Score != 0 {
		t.Errorf("Score = %v, want 0", res.Score)
	}
}

func TestMatchSpacedAccountNumber(t *testing.T) {
	res := Match("123-456-7890", "", "", testAccounts, DefaultWeights)

	if res.Account == nil || res.Account.ID != 1 {
		t.Fatalf("matched account = %+v, want ID 1", res.Account)
	}
	if res.NumberScore != 1.0 {
		t.Errorf("NumberScore = %v, want 1.0 after separator strip", res.NumberScore)
	}
}
