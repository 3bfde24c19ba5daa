package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/chatbooks/internal/model"
)

// PostgresProductRepo はPostgreSQLを使用した商品リポジトリ。
type PostgresProductRepo struct {
	db DBTX
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db DBTX) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

const productColumns = `id, user_id, name, stock, cost, price, created_at, updated_at`

// FindByName は商品名（大文字小文字を区別しない）で商品を取得する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindByName(ctx context.Context, userID, name string) (*model.Product, error) {
	p := &model.Product{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE user_id = $1 AND lower(name) = lower($2)`,
		userID, name,
	).Scan(&p.ID, &p.UserID, &p.Name, &p.Stock, &p.Cost, &p.Price, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product by name: %w", err)
	}
	return p, nil
}

// ListByUser はユーザーの全商品を名前順で返す。
func (r *PostgresProductRepo) ListByUser(ctx context.Context, userID string) ([]*model.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE user_id = $1 ORDER BY lower(name)`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		p := &model.Product{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Stock, &p.Cost, &p.Price, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// Create は商品を作成する。
func (r *PostgresProductRepo) Create(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.UserID, p.Name, p.Stock, p.Cost, p.Price, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

// Update は原価・売価を更新する。
func (r *PostgresProductRepo) Update(ctx context.Context, p *model.Product) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE products SET cost = $3, price = $4, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		p.ID, p.UserID, p.Cost, p.Price,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return requireAffected(result, "product", p.ID)
}

// AdjustStock は stock = stock + delta を1文で実行する。
// 読み取り値を書き戻さないため、複数のプロセスから同時に売上を記帳しても減算が失われない。
func (r *PostgresProductRepo) AdjustStock(ctx context.Context, userID, productID string, delta int) (*model.Product, error) {
	p := &model.Product{}
	err := r.db.QueryRowContext(ctx,
		`UPDATE products SET stock = stock + $3, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND stock + $3 >= 0
		 RETURNING `+productColumns,
		productID, userID, delta,
	).Scan(&p.ID, &p.UserID, &p.Name, &p.Stock, &p.Cost, &p.Price, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		if delta < 0 {
			return nil, ErrInsufficientStock
		}
		return nil, fmt.Errorf("product not found: %s", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to adjust product stock: %w", err)
	}
	return p, nil
}

// compile-time interface check
var _ ProductRepository = (*PostgresProductRepo)(nil)
