// Package testutil seeds repositories with the fixtures shared by the test suites.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/promo"
	"github.com/trezcool/academia/core/store"
	"github.com/trezcool/academia/core/tenant"
	"github.com/trezcool/academia/core/user"
)

func CreateTenant(t *testing.T, repo tenant.Repository, slug string, isActive bool) tenant.Tenant {
	t.Helper()
	tnt, err := repo.CreateTenant(context.Background(), tenant.Tenant{
		Slug:      slug,
		Name:      slug,
		Currency:  "USD",
		IsActive:  isActive,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateTenant() failed: %v", err)
	}
	return tnt
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	tenantID, name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		TenantID:  tenantID,
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if usr.Roles == nil {
		usr.Roles = []string{}
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateCourse creates a course with `status`; its slug is derived from the title.
func CreateCourse(t *testing.T, repo course.Repository, tenantID, instructorID, title string, price int64, status string) course.Course {
	t.Helper()
	now := time.Now().UTC()
	c, err := repo.CreateCourse(context.Background(), course.Course{
		TenantID:     tenantID,
		InstructorID: instructorID,
		Title:        title,
		Slug:         core.Slugify(title),
		Price:        price,
		Currency:     "USD",
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	return c
}

func CreateBatch(t *testing.T, repo course.Repository, courseID, name string, startsAt, endsAt time.Time, capacity int) course.Batch {
	t.Helper()
	b, err := repo.CreateBatch(context.Background(), course.Batch{
		CourseID: courseID,
		Name:     name,
		StartsAt: startsAt.UTC(),
		EndsAt:   endsAt.UTC(),
		Capacity: capacity,
	})
	if err != nil {
		t.Fatalf("CreateBatch() failed: %v", err)
	}
	return b
}

func CreateProduct(t *testing.T, repo store.Repository, tenantID, sku, name string, price int64, stock int) store.Product {
	t.Helper()
	now := time.Now().UTC()
	p, err := repo.CreateProduct(context.Background(), store.Product{
		TenantID:  tenantID,
		SKU:       sku,
		Name:      name,
		Price:     price,
		Stock:     stock,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateProduct() failed: %v", err)
	}
	return p
}

// CreatePromo creates an active promo code without limits nor validity window.
func CreatePromo(t *testing.T, repo promo.Repository, tenantID, code, kind string, value int64) promo.PromoCode {
	t.Helper()
	p, err := repo.CreatePromo(context.Background(), promo.PromoCode{
		TenantID:  tenantID,
		Code:      code,
		Kind:      kind,
		Value:     value,
		CourseIDs: []string{},
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreatePromo() failed: %v", err)
	}
	return p
}
