package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/repository"
)

// AddProduct は商品名（大文字小文字を区別しない）で商品を作成または入庫する。
// 既存商品では在庫を加算し、原価・売価を上書きする。在庫ログは常に追記する。
func (e *Executor) AddProduct(ctx context.Context, user *model.User, cmd *model.ProductCommand) Result {
	return e.mutate(ctx, "add_product", user, func(ctx context.Context, r repository.Repos) (string, error) {
		name := strings.TrimSpace(cmd.Name)
		if name == "" {
			return "", &model.ValidationError{Field: "name", Message: "What's the name of the product?"}
		}
		if cmd.Quantity <= 0 {
			return "", &model.ValidationError{Field: "quantity", Message: fmt.Sprintf("How many units of %s are you adding? The quantity must be at least 1.", name)}
		}
		if cmd.Cost.IsNegative() || cmd.Price.IsNegative() {
			return "", &model.ValidationError{Field: "price", Message: "Cost and price can't be negative."}
		}

		existing, err := r.Products.FindByName(ctx, user.ID, name)
		if err != nil {
			return "", fmt.Errorf("商品の取得に失敗しました: %w", err)
		}

		now := e.stamp()
		var (
			product *model.Product
			reason  model.InventoryReason
		)
		if existing == nil {
			product = &model.Product{
				UserID:    user.ID,
				Name:      name,
				Stock:     cmd.Quantity,
				Cost:      cmd.Cost,
				Price:     cmd.Price,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := r.Products.Create(ctx, product); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return "", &model.ConflictError{Reason: model.ConflictDuplicateName, Message: fmt.Sprintf("A product called %q already exists.", name)}
				}
				return "", fmt.Errorf("商品の作成に失敗しました: %w", err)
			}
			reason = model.InventoryInitialStock
		} else {
			existing.Cost = cmd.Cost
			existing.Price = cmd.Price
			existing.UpdatedAt = now
			if err := r.Products.Update(ctx, existing); err != nil {
				return "", fmt.Errorf("商品の更新に失敗しました: %w", err)
			}
			product, err = r.Products.AdjustStock(ctx, user.ID, existing.ID, cmd.Quantity)
			if err != nil {
				return "", fmt.Errorf("在庫の更新に失敗しました: %w", err)
			}
			reason = model.InventoryPurchase
		}

		if err := r.InventoryLogs.Append(ctx, &model.InventoryLogEntry{
			UserID:      user.ID,
			ProductID:   product.ID,
			Change:      cmd.Quantity,
			Reason:      reason,
			ReferenceID: product.ID,
			CreatedAt:   now,
		}); err != nil {
			return "", fmt.Errorf("在庫ログの追記に失敗しました: %w", err)
		}

		if reason == model.InventoryInitialStock {
			return fmt.Sprintf("✅ Added %s: %d in stock, cost %s, price %s.",
				product.Name, product.Stock, e.format(user, product.Cost), e.format(user, product.Price)), nil
		}
		return fmt.Sprintf("✅ Restocked %s: +%d, now %d in stock. Cost %s, price %s.",
			product.Name, cmd.Quantity, product.Stock, e.format(user, product.Cost), e.format(user, product.Price)), nil
	})
}

// CheckStock は在庫を照会する。nameが空なら全商品の一覧を返す。
func (e *Executor) CheckStock(ctx context.Context, user *model.User, name string) Result {
	return e.query(ctx, "check_stock", user, func(ctx context.Context, r repository.Repos) (string, error) {
		name = strings.TrimSpace(name)
		if name != "" {
			p, err := r.Products.FindByName(ctx, user.ID, name)
			if err != nil {
				return "", fmt.Errorf("商品の取得に失敗しました: %w", err)
			}
			if p == nil {
				return "", &model.NotFoundError{Entity: "product", Name: name, Message: fmt.Sprintf("I couldn't find a product called %q.", name)}
			}
			return fmt.Sprintf("📦 %s: %d in stock (price %s).", p.Name, p.Stock, e.format(user, p.Price)), nil
		}

		products, err := r.Products.ListByUser(ctx, user.ID)
		if err != nil {
			return "", fmt.Errorf("商品一覧の取得に失敗しました: %w", err)
		}
		if len(products) == 0 {
			return "You haven't added any products yet. Say \"add product\" to add one.", nil
		}
		var b strings.Builder
		b.WriteString("📦 Stock levels:")
		for _, p := range products {
			fmt.Fprintf(&b, "\n• %s: %d (price %s)", p.Name, p.Stock, e.format(user, p.Price))
			if p.Stock == 0 {
				b.WriteString(" ⚠️ out of stock")
			}
		}
		return b.String(), nil
	})
}
