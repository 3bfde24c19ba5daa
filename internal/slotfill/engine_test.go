package slotfill

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/chatbooks/internal/llm"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

// scriptedProvider は登録順に応答を返し、受け取ったリクエストを記録する。
type scriptedProvider struct {
	responses []string
	err       error
	requests  []llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return "", p.err
	}
	if len(p.responses) == 0 {
		return "", errors.New("no scripted response left")
	}
	out := p.responses[0]
	p.responses = p.responses[1:]
	return out, nil
}

type mockProductLookup struct {
	findByNameFn func(ctx context.Context, userID, name string) (*model.Product, error)
	calls        int
}

func (m *mockProductLookup) FindByName(ctx context.Context, userID, name string) (*model.Product, error) {
	m.calls++
	if m.findByNameFn != nil {
		return m.findByNameFn(ctx, userID, name)
	}
	return nil, nil
}

var testUser = &model.User{ID: "user-1", BusinessName: "Ada Stores", Currency: "NGN"}

func newTestEngine(p llm.Provider, products ProductLookup) *Engine {
	e := NewEngine(p, products, testLogger())
	e.now = func() time.Time { return time.Date(2026, 3, 18, 9, 0, 0, 0, time.UTC) }
	return e
}

func TestContinue_SaleCompleteInOneTurn(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"status":"complete","reply":"","data":{"productName":"Rice","unitsSold":5,"amount":"2k","saleType":"cash"}}`,
	}}
	e := newTestEngine(p, &mockProductLookup{})
	scratch := &model.CollectScratch{}

	res := e.Continue(context.Background(), testUser, model.FlowSale, scratch, "Sold 5 rice for 2k cash")
	if res.Status != Complete {
		t.Fatalf("Status = %v, want complete (reply %q)", res.Status, res.Reply)
	}
	cmd, ok := res.Command.(*model.SaleCommand)
	if !ok {
		t.Fatalf("Command type = %T, want *model.SaleCommand", res.Command)
	}
	if cmd.ProductName != "Rice" || cmd.UnitsSold != 5 || !cmd.Amount.Equal(decimal.NewFromInt(2000)) || cmd.SaleType != model.SaleCash {
		t.Errorf("Command = %+v", cmd)
	}
	if len(p.requests) != 1 || !strings.Contains(p.requests[0].SystemPrompt, "Ada Stores") {
		t.Errorf("system prompt should mention the business name")
	}
}

func TestContinue_ClaimedCompleteWithoutSaleTypeAsks(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"status":"complete","data":{"productName":"Rice","unitsSold":"5","amount":"2000"}}`,
	}}
	e := newTestEngine(p, nil)
	scratch := &model.CollectScratch{}

	res := e.Continue(context.Background(), testUser, model.FlowSale, scratch, "sold 5 rice 2000")
	if res.Status != Incomplete {
		t.Fatalf("Status = %v, want incomplete", res.Status)
	}
	if !strings.Contains(res.Reply, "cash") {
		t.Errorf("Reply = %q, want a payment method question", res.Reply)
	}
	if len(scratch.Memory) != 2 || scratch.Memory[1].Role != model.RoleAssistant || scratch.Memory[1].Content != res.Reply {
		t.Errorf("Memory = %+v, want user turn then the question", scratch.Memory)
	}
}

func TestContinue_CreditSaleRequiresCustomer(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"status":"complete","data":{"productName":"Rice","unitsSold":2,"amount":800,"saleType":"credit"}}`,
		`{"status":"complete","data":{"productName":"Rice","unitsSold":2,"amount":800,"saleType":"credit","customerName":"Mama Tunde"}}`,
	}}
	e := newTestEngine(p, nil)
	scratch := &model.CollectScratch{}

	res := e.Continue(context.Background(), testUser, model.FlowSale, scratch, "sold 2 rice 800 on credit")
	if res.Status != Incomplete || !strings.Contains(res.Reply, "customer") {
		t.Fatalf("first turn = %+v, want customer question", res)
	}

	res = e.Continue(context.Background(), testUser, model.FlowSale, scratch, "Mama Tunde")
	if res.Status != Complete {
		t.Fatalf("second turn Status = %v, want complete", res.Status)
	}
	if got := res.Command.(*model.SaleCommand).CustomerName; got != "Mama Tunde" {
		t.Errorf("CustomerName = %q", got)
	}
	if len(p.requests[1].Turns) != 3 {
		t.Errorf("second request turns = %d, want 3", len(p.requests[1].Turns))
	}
}

func TestContinue_UnitPriceMultiplies(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"status":"complete","data":{"productName":"Soap","unitsSold":4,"unitPrice":"₦500","saleType":"transfer"}}`,
	}}
	res := newTestEngine(p, nil).Continue(context.Background(), testUser, model.FlowSale, &model.CollectScratch{}, "4 soap at 500 each, transfer")
	if res.Status != Complete {
		t.Fatalf("Status = %v, want complete", res.Status)
	}
	cmd := res.Command.(*model.SaleCommand)
	if !cmd.Amount.Equal(decimal.NewFromInt(2000)) || cmd.SaleType != model.SaleBank {
		t.Errorf("Command = %+v, want amount 2000 via bank", cmd)
	}
}

func TestContinue_UnparseableAmountIsNeverZero(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"status":"complete","data":{"productName":"Rice","unitsSold":1,"amount":"a lot","saleType":"cash"}}`,
	}}
	res := newTestEngine(p, nil).Continue(context.Background(), testUser, model.FlowSale, &model.CollectScratch{}, "sold rice for a lot")
	if res.Status != Incomplete {
		t.Fatalf("Status = %v, want incomplete", res.Status)
	}
	if !strings.Contains(res.Reply, `"a lot"`) {
		t.Errorf("Reply = %q, want it to quote the unreadable value", res.Reply)
	}
}

func TestContinue_RelaysProviderQuestion(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"status":"incomplete","reply":"How many bags of rice?","data":{"productName":"Rice"}}`,
	}}
	res := newTestEngine(p, nil).Continue(context.Background(), testUser, model.FlowSale, &model.CollectScratch{}, "I sold rice")
	if res.Status != Incomplete || res.Reply != "How many bags of rice?" {
		t.Errorf("Result = %+v, want the provider question relayed", res)
	}
}

func TestContinue_ProviderFailureDoesNotDuplicateTurn(t *testing.T) {
	p := &scriptedProvider{err: &model.UpstreamUnavailableError{Provider: "scripted", Err: errors.New("timeout")}}
	e := newTestEngine(p, nil)
	scratch := &model.CollectScratch{}

	for i := 0; i < 2; i++ {
		res := e.Continue(context.Background(), testUser, model.FlowExpense, scratch, "spent 3k on fuel")
		if res.Status != Failed {
			t.Fatalf("Status = %v, want failed", res.Status)
		}
	}
	if len(scratch.Memory) != 1 {
		t.Errorf("Memory = %+v, want the user turn only once", scratch.Memory)
	}
}

func TestContinue_MalformedResponseFails(t *testing.T) {
	p := &scriptedProvider{responses: []string{"sure, noted!"}}
	res := newTestEngine(p, nil).Continue(context.Background(), testUser, model.FlowExpense, &model.CollectScratch{}, "spent 3k")
	if res.Status != Failed {
		t.Errorf("Status = %v, want failed", res.Status)
	}
}

func TestContinue_UnsupportedFlow(t *testing.T) {
	res := newTestEngine(&scriptedProvider{}, nil).Continue(context.Background(), testUser, model.FlowReconcile, &model.CollectScratch{}, "x")
	if res.Status != Failed {
		t.Errorf("Status = %v, want failed", res.Status)
	}
}

func TestContinue_ExistingProductKeepsCostAndPrice(t *testing.T) {
	products := &mockProductLookup{
		findByNameFn: func(_ context.Context, userID, name string) (*model.Product, error) {
			if userID != "user-1" || !strings.EqualFold(name, "rice") {
				t.Errorf("FindByName(%q, %q)", userID, name)
			}
			return &model.Product{ID: "p-1", Name: "Rice", Stock: 3, Cost: decimal.NewFromInt(300), Price: decimal.NewFromInt(500)}, nil
		},
	}
	p := &scriptedProvider{responses: []string{
		`{"status":"incomplete","reply":"How many bags are you adding?","data":{"name":"rice"}}`,
		`{"status":"complete","data":{"name":"rice","quantity":10}}`,
	}}
	e := newTestEngine(p, products)
	scratch := &model.CollectScratch{}

	e.Continue(context.Background(), testUser, model.FlowProduct, scratch, "restock rice")
	if scratch.ProductMatch == nil || scratch.ProductMatch.ID != "p-1" {
		t.Fatalf("ProductMatch = %+v, want p-1", scratch.ProductMatch)
	}
	res := e.Continue(context.Background(), testUser, model.FlowProduct, scratch, "10")
	if res.Status != Complete {
		t.Fatalf("Status = %v, want complete (reply %q)", res.Status, res.Reply)
	}
	cmd := res.Command.(*model.ProductCommand)
	if cmd.Quantity != 10 || !cmd.Cost.Equal(decimal.NewFromInt(300)) || !cmd.Price.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Command = %+v", cmd)
	}
	if products.calls != 1 {
		t.Errorf("FindByName calls = %d, want 1", products.calls)
	}
	if !strings.Contains(p.requests[1].SystemPrompt, "3 in stock") {
		t.Errorf("second prompt should describe the known product")
	}
}

func TestContinue_NewProductNeedsPrice(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"status":"complete","data":{"name":"Garri","quantity":20,"cost":"1,200"}}`,
	}}
	res := newTestEngine(p, &mockProductLookup{}).Continue(context.Background(), testUser, model.FlowProduct, &model.CollectScratch{}, "add 20 garri cost 1200")
	if res.Status != Incomplete || !strings.Contains(res.Reply, "selling price") {
		t.Errorf("Result = %+v, want a selling price question", res)
	}
}

func TestContinue_CustomerPaymentKind(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"status":"complete","data":{"customerName":"Bola","amount":"5000"}}`,
		`{"status":"complete","data":{"customerName":"Bola","amount":"5000","kind":"credit"}}`,
	}}
	e := newTestEngine(p, nil)
	scratch := &model.CollectScratch{}

	res := e.Continue(context.Background(), testUser, model.FlowCustomerPayment, scratch, "Bola 5000")
	if res.Status != Incomplete || !strings.Contains(res.Reply, "Bola") {
		t.Fatalf("Result = %+v, want kind question", res)
	}
	res = e.Continue(context.Background(), testUser, model.FlowCustomerPayment, scratch, "she owes")
	if res.Status != Complete {
		t.Fatalf("Status = %v, want complete", res.Status)
	}
	cmd := res.Command.(*model.CustomerPaymentCommand)
	if !cmd.Delta().Equal(decimal.NewFromInt(5000)) {
		t.Errorf("Delta() = %s, want 5000", cmd.Delta())
	}
}

func TestContinue_BankAccountZeroOpeningBalance(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"status":"complete","data":{"name":"Opay","openingBalance":"0"}}`,
	}}
	res := newTestEngine(p, nil).Continue(context.Background(), testUser, model.FlowBankAccount, &model.CollectScratch{}, "add Opay, it's new")
	if res.Status != Complete {
		t.Fatalf("Status = %v, want complete", res.Status)
	}
	if cmd := res.Command.(*model.BankAccountCommand); cmd.Name != "Opay" || !cmd.OpeningBalance.IsZero() {
		t.Errorf("Command = %+v", cmd)
	}
}

func TestContinue_ExpenseDefaults(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"status":"complete","data":{"amount":"3k","category":"Transport","paymentMethod":"transfer"}}`,
	}}
	res := newTestEngine(p, nil).Continue(context.Background(), testUser, model.FlowExpense, &model.CollectScratch{}, "spent 3k on transport by transfer")
	if res.Status != Complete {
		t.Fatalf("Status = %v, want complete", res.Status)
	}
	cmd := res.Command.(*model.ExpenseCommand)
	if cmd.Category != "transport" || cmd.Description != "transport" || cmd.PaymentMethod != model.PaymentBank {
		t.Errorf("Command = %+v", cmd)
	}
	if !cmd.Amount.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("Amount = %s, want 3000", cmd.Amount)
	}
}

func TestContinue_ExpenseNegativeAmountAsks(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"status":"complete","data":{"amount":"-50","category":"fuel"}}`,
	}}
	res := newTestEngine(p, nil).Continue(context.Background(), testUser, model.FlowExpense, &model.CollectScratch{}, "fuel -50")
	if res.Status != Incomplete || !strings.Contains(res.Reply, "greater than zero") {
		t.Errorf("Result = %+v, want a positive amount question", res)
	}
}

func TestAppendTurn_TrimsMemory(t *testing.T) {
	var memory []model.Turn
	for i := 0; i < maxMemoryTurns+5; i++ {
		memory = appendTurn(memory, model.Turn{Role: model.RoleUser, Content: string(rune('a' + i%26))})
	}
	if len(memory) != maxMemoryTurns {
		t.Errorf("len(memory) = %d, want %d", len(memory), maxMemoryTurns)
	}
	if memory[0].Content != string(rune('a'+5)) {
		t.Errorf("oldest turn = %q, want the sixth message", memory[0].Content)
	}
}
