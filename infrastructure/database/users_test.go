package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewRepositoryFromDB(sqlxDB), mock
}

func TestGetUser(t *testing.T) {
	repo, mock := newMockRepository(t)

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "address", "email", "password_hash", "nonce", "role", "created_at", "updated_at"}).
			AddRow("user-1", "", "alice@example.com", "hash", "", "user", time.Now(), time.Now())
		mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).WithArgs("user-1").WillReturnRows(rows)

		u, err := repo.GetUser(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("GetUser() error = %v", err)
		}
		if u.Email != "alice@example.com" {
			t.Errorf("Email = %q, want alice@example.com", u.Email)
		}
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

		_, err := repo.GetUser(context.Background(), "missing")
		if !IsNotFound(err) {
			t.Errorf("expected not found error, got %v", err)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := repo.GetUser(context.Background(), "")
		if !IsInvalidInput(err) {
			t.Errorf("expected invalid input error, got %v", err)
		}
	})
}

func TestCreateUser(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(1, 1))

	user := &User{Address: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"}
	if err := repo.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if user.ID == "" {
		t.Error("CreateUser() should assign a generated ID")
	}
	if user.Role != "user" {
		t.Errorf("Role = %q, want default 'user'", user.Role)
	}
}

func TestUpdateUserEmail_NotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectExec(`UPDATE users SET email`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateUserEmail(context.Background(), "user-1", "new@example.com")
	if !IsNotFound(err) {
		t.Errorf("expected not found error, got %v", err)
	}
}
