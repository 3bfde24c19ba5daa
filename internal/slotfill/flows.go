package slotfill

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/money"
	"github.com/shopspring/decimal"
)

// flowSpec は収集フロー1種類分のスキーマと完了判定。
// build は必須フィールドの閉じた集合を検査し、欠落があれば具体的な質問を返す。
type flowSpec struct {
	task        string
	fields      string
	lookupField func(raw json.RawMessage) string
	build       func(raw json.RawMessage, known *model.ProductMatch) (any, string, error)
}

var specs = map[model.FlowKind]flowSpec{
	model.FlowSale: {
		task: "record a sale of goods",
		fields: `"productName": string, "unitsSold": number, "amount": total amount received (number),
"unitPrice": price per unit if the user gave that instead of a total (number),
"saleType": "cash" | "bank" | "credit", "customerName": string (required when saleType is credit)`,
		lookupField: func(raw json.RawMessage) string {
			var d saleData
			_ = json.Unmarshal(raw, &d)
			return strings.TrimSpace(d.ProductName)
		},
		build: buildSale,
	},
	model.FlowExpense: {
		task: "record a business expense",
		fields: `"amount": number, "category": short label such as "transport" or "rent", "description": string,
"paymentMethod": "cash" | "bank"`,
		build: buildExpense,
	},
	model.FlowProduct: {
		task: "add a new product or add stock to an existing product",
		fields: `"name": string, "quantity": units being added (number), "cost": cost per unit (number),
"price": selling price per unit (number)`,
		lookupField: func(raw json.RawMessage) string {
			var d productData
			_ = json.Unmarshal(raw, &d)
			return strings.TrimSpace(d.Name)
		},
		build: buildProduct,
	},
	model.FlowCustomerPayment: {
		task: "record money a customer paid, or goods a customer took on credit",
		fields: `"customerName": string, "amount": number,
"kind": "payment" when the customer paid money | "credit" when the customer now owes money`,
		build: buildCustomerPayment,
	},
	model.FlowBankAccount: {
		task: "add a bank account",
		fields: `"name": string such as "GTBank" or "Opay", "openingBalance": current balance (number, 0 if new)`,
		build: buildBankAccount,
	},
}

// numberQuestion は数値フィールドの欠落・解釈不能に対する質問を組み立てる。
func numberQuestion(in money.Input, ask string) string {
	if in.Valid {
		return fmt.Sprintf("I couldn't read %q as a number. %s", in.Raw, ask)
	}
	return ask
}

func positive(in money.Input, ask string) (decimal.Decimal, string) {
	d, err := in.Price()
	if err != nil {
		return decimal.Decimal{}, numberQuestion(in, ask)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, "The amount must be greater than zero. " + ask
	}
	return d, ""
}

func nonNegative(in money.Input, ask string) (decimal.Decimal, string) {
	d, err := in.Price()
	if err != nil {
		return decimal.Decimal{}, numberQuestion(in, ask)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, "That can't be negative. " + ask
	}
	return d, ""
}

func quantity(in money.Input, ask string) (int, string) {
	n, err := in.Quantity()
	if err != nil {
		return 0, numberQuestion(in, ask)
	}
	return n, ""
}

// --- 売上 ---

type saleData struct {
	ProductName  string      `json:"productName"`
	UnitsSold    money.Input `json:"unitsSold"`
	Amount       money.Input `json:"amount"`
	UnitPrice    money.Input `json:"unitPrice"`
	SaleType     string      `json:"saleType"`
	CustomerName string      `json:"customerName"`
}

// parseSaleType は決済手段の言い換えを正規化する。
func parseSaleType(s string) (model.SaleType, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "transfer", "bank transfer", "pos", "card":
		return model.SaleBank, true
	case "debt", "owing", "later", "on credit":
		return model.SaleCredit, true
	}
	return model.ParseSaleType(v)
}

func buildSale(raw json.RawMessage, _ *model.ProductMatch) (any, string, error) {
	var d saleData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, "", err
	}
	name := strings.TrimSpace(d.ProductName)
	if name == "" {
		return nil, "Which product did you sell?", nil
	}
	units, q := quantity(d.UnitsSold, fmt.Sprintf("How many units of %s did you sell?", name))
	if q != "" {
		return nil, q, nil
	}

	askTotal := fmt.Sprintf("How much did you sell the %d %s for in total?", units, name)
	var amount decimal.Decimal
	switch {
	case d.Amount.Valid:
		if amount, q = positive(d.Amount, askTotal); q != "" {
			return nil, q, nil
		}
	case d.UnitPrice.Valid:
		unit, q := positive(d.UnitPrice, askTotal)
		if q != "" {
			return nil, q, nil
		}
		amount = unit.Mul(decimal.NewFromInt(int64(units)))
	default:
		return nil, askTotal, nil
	}

	saleType, ok := parseSaleType(d.SaleType)
	if !ok {
		return nil, "Was it paid in cash, by bank transfer, or on credit?", nil
	}
	customer := strings.TrimSpace(d.CustomerName)
	if saleType == model.SaleCredit && customer == "" {
		return nil, "Who bought on credit? Please share the customer's name.", nil
	}

	return &model.SaleCommand{
		ProductName:  name,
		UnitsSold:    units,
		Amount:       amount,
		SaleType:     saleType,
		CustomerName: customer,
	}, "", nil
}

// --- 支出 ---

type expenseData struct {
	Amount        money.Input `json:"amount"`
	Category      string      `json:"category"`
	Description   string      `json:"description"`
	PaymentMethod string      `json:"paymentMethod"`
}

func buildExpense(raw json.RawMessage, _ *model.ProductMatch) (any, string, error) {
	var d expenseData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, "", err
	}
	amount, q := positive(d.Amount, "How much did you spend?")
	if q != "" {
		return nil, q, nil
	}
	category := strings.ToLower(strings.TrimSpace(d.Category))
	description := strings.TrimSpace(d.Description)
	if category == "" && description == "" {
		return nil, "What was the expense for?", nil
	}
	if category == "" {
		category = "general"
	}
	if description == "" {
		description = category
	}

	method := model.PaymentCash
	switch strings.ToLower(strings.TrimSpace(d.PaymentMethod)) {
	case "bank", "transfer", "bank transfer", "card", "pos":
		method = model.PaymentBank
	}

	return &model.ExpenseCommand{
		Amount:        amount,
		Category:      category,
		Description:   description,
		PaymentMethod: method,
	}, "", nil
}

// --- 商品 ---

type productData struct {
	Name     string      `json:"name"`
	Quantity money.Input `json:"quantity"`
	Cost     money.Input `json:"cost"`
	Price    money.Input `json:"price"`
}

// buildProduct は既存商品への入庫であれば、未指定の原価・売価を既存値で補う。
func buildProduct(raw json.RawMessage, known *model.ProductMatch) (any, string, error) {
	var d productData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, "", err
	}
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return nil, "What's the name of the product?", nil
	}
	qty, q := quantity(d.Quantity, fmt.Sprintf("How many units of %s are you adding?", name))
	if q != "" {
		return nil, q, nil
	}

	existing := known != nil && strings.EqualFold(known.Name, name)

	var cost, price decimal.Decimal
	switch {
	case d.Cost.Valid:
		if cost, q = nonNegative(d.Cost, fmt.Sprintf("What did each unit of %s cost you?", name)); q != "" {
			return nil, q, nil
		}
	case existing:
		cost = known.Cost
	default:
		return nil, fmt.Sprintf("What did each unit of %s cost you?", name), nil
	}
	switch {
	case d.Price.Valid:
		if price, q = nonNegative(d.Price, fmt.Sprintf("What's the selling price per unit of %s?", name)); q != "" {
			return nil, q, nil
		}
	case existing:
		price = known.Price
	default:
		return nil, fmt.Sprintf("What's the selling price per unit of %s?", name), nil
	}

	return &model.ProductCommand{Name: name, Quantity: qty, Cost: cost, Price: price}, "", nil
}

// --- 顧客入金・掛け ---

type customerPaymentData struct {
	CustomerName string      `json:"customerName"`
	Amount       money.Input `json:"amount"`
	Kind         string      `json:"kind"`
}

func buildCustomerPayment(raw json.RawMessage, _ *model.ProductMatch) (any, string, error) {
	var d customerPaymentData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, "", err
	}
	name := strings.TrimSpace(d.CustomerName)
	if name == "" {
		return nil, "What's the customer's name?", nil
	}
	amount, q := positive(d.Amount, "How much was it?")
	if q != "" {
		return nil, q, nil
	}
	var kind model.CustomerPaymentKind
	switch strings.ToLower(strings.TrimSpace(d.Kind)) {
	case "payment", "paid", "repayment":
		kind = model.CustomerPaid
	case "credit", "owes", "debt":
		kind = model.CustomerCredit
	default:
		return nil, fmt.Sprintf("Did %s pay you, or take goods on credit?", name), nil
	}
	return &model.CustomerPaymentCommand{CustomerName: name, Amount: amount, Kind: kind}, "", nil
}

// --- 銀行口座 ---

type bankAccountData struct {
	Name           string      `json:"name"`
	OpeningBalance money.Input `json:"openingBalance"`
}

func buildBankAccount(raw json.RawMessage, _ *model.ProductMatch) (any, string, error) {
	var d bankAccountData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, "", err
	}
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return nil, "What's the name of the bank account?", nil
	}
	balance, q := nonNegative(d.OpeningBalance, fmt.Sprintf("What's the current balance of %s? Send 0 if it's new.", name))
	if q != "" {
		return nil, q, nil
	}
	return &model.BankAccountCommand{Name: name, OpeningBalance: balance}, "", nil
}
