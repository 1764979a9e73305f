package casestore

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/casepilot/internal/testcase"
)

func sample(title string) testcase.TestCase {
	return testcase.TestCase{
		Title:          title,
		Preconditions:  "用户已注册并登录系统",
		Steps:          []testcase.Step{{Number: 1, Action: "输入正确的用户名和密码", Expected: "登录成功"}},
		ExpectedResult: "跳转到首页并显示用户名",
		Priority:       testcase.PriorityHigh,
		Type:           testcase.TypeFunctional,
	}
}

// exerciseStore runs the same contract against every implementation.
func exerciseStore(t *testing.T, s Store, project string) {
	ctx := context.Background()

	t.Run("save assigns id and version 1", func(t *testing.T) {
		sv, err := s.Save(ctx, project, sample("测试登录成功"))
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if sv.ID == "" || sv.Version != 1 {
			t.Errorf("saved = %+v", sv)
		}
		rec, err := s.Get(ctx, sv.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.Case.Title != "测试登录成功" || rec.ProjectID != project || rec.Case.ID != sv.ID {
			t.Errorf("record = %+v", rec)
		}
		if len(rec.Case.Steps) != 1 || rec.Case.Steps[0].Expected != "登录成功" {
			t.Errorf("steps = %+v", rec.Case.Steps)
		}
	})

	t.Run("update bumps version", func(t *testing.T) {
		sv, err := s.Save(ctx, project, sample("测试登录失败"))
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		changed := sample("测试密码错误时登录失败")
		for want := 2; want <= 3; want++ {
			got, err := s.Update(ctx, sv.ID, changed)
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if got.ID != sv.ID || got.Version != want {
				t.Errorf("update = %+v, want version %d", got, want)
			}
		}
		rec, _ := s.Get(ctx, sv.ID)
		if rec.Case.Title != "测试密码错误时登录失败" || rec.Version != 3 {
			t.Errorf("record = %+v", rec)
		}
	})

	t.Run("save with existing id bumps version", func(t *testing.T) {
		c := sample("测试重复保存")
		c.ID = "fixed-" + uuid.NewString()
		first, err := s.Save(ctx, project, c)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		second, err := s.Save(ctx, project, c)
		if err != nil {
			t.Fatalf("Save again: %v", err)
		}
		if first.ID != c.ID || first.Version != 1 || second.Version != 2 {
			t.Errorf("first = %+v, second = %+v", first, second)
		}
	})

	t.Run("update missing", func(t *testing.T) {
		_, err := s.Update(ctx, "missing-"+uuid.NewString(), sample("x"))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "missing-"+uuid.NewString())
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("list by project", func(t *testing.T) {
		recs, err := s.List(ctx, project, 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(recs) != 3 {
			t.Errorf("List returned %d, want 3", len(recs))
		}
		for _, r := range recs {
			if r.ProjectID != project {
				t.Errorf("record from project %q", r.ProjectID)
			}
		}
		limited, _ := s.List(ctx, project, 2)
		if len(limited) != 2 {
			t.Errorf("limited List returned %d, want 2", len(limited))
		}
	})
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory(), "p1")
}

func TestMemory_ListOrder(t *testing.T) {
	m := NewMemory()
	clock := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	ctx := context.Background()
	a, _ := m.Save(ctx, "p1", sample("测试A"))
	b, _ := m.Save(ctx, "p1", sample("测试B"))
	_, _ = m.Update(ctx, a.ID, sample("测试A2"))

	recs, _ := m.List(ctx, "p1", 0)
	if recs[0].ID != a.ID || recs[1].ID != b.ID {
		t.Errorf("order = %s, %s; want most recently updated first", recs[0].ID, recs[1].ID)
	}
}

func TestMemory_ConcurrentUpdatesAreMonotonic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	sv, _ := m.Save(ctx, "p1", sample("测试并发"))

	const writers = 20
	versions := make(chan int, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := m.Update(ctx, sv.ID, sample("测试并发"))
			if err != nil {
				t.Errorf("Update: %v", err)
				return
			}
			versions <- got.Version
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[int]bool)
	for v := range versions {
		if seen[v] {
			t.Errorf("version %d returned twice", v)
		}
		seen[v] = true
	}
	rec, _ := m.Get(ctx, sv.ID)
	if rec.Version != writers+1 {
		t.Errorf("final version = %d, want %d", rec.Version, writers+1)
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	sv, _ := m.Save(ctx, "p1", sample("测试副本"))

	rec, _ := m.Get(ctx, sv.ID)
	rec.Version = 99
	again, _ := m.Get(ctx, sv.ID)
	if again.Version != 1 {
		t.Errorf("stored version mutated to %d", again.Version)
	}
}

func TestSaveAll(t *testing.T) {
	m := NewMemory()
	saved, err := SaveAll(context.Background(), m, "p1", []testcase.TestCase{sample("测试一"), sample("测试二")})
	if err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if len(saved) != 2 || saved[0].ID == saved[1].ID {
		t.Errorf("saved = %+v", saved)
	}
}

func TestSaveAll_StopsOnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	saved, err := SaveAll(ctx, NewMemory(), "p1", []testcase.TestCase{sample("测试一")})
	if err == nil || len(saved) != 0 {
		t.Errorf("saved = %+v, err = %v", saved, err)
	}
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("CASEPILOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CASEPILOT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p := NewPostgres(pool)
	t.Cleanup(p.Close)
	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	project := "test-" + uuid.NewString()
	t.Cleanup(func() {
		pool.Exec(context.Background(), `DELETE FROM test_cases WHERE project_id = $1`, project)
	})
	exerciseStore(t, p, project)
}
