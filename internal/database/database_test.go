package database

import (
	"context"
	"fmt"
	"testing"

	"byok-api/internal/config"
	"byok-api/internal/historysummary"
	"byok-api/internal/models"

	"github.com/google/go-cmp/cmp"
)

// setupTestDB 创建测试数据库（使用 SQLite 内存数据库）
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Type: config.DatabaseTypeSQLite,
			SQLite: config.SQLiteConfig{
				Path: ":memory:",
			},
		},
	}

	db, err := New(cfg)
	if err != nil {
		t.Fatalf("创建测试数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleEntry(conv, boundary string, updatedAt int64) *models.SummaryCacheEntry {
	return &models.SummaryCacheEntry{
		ConversationID:               conv,
		BoundaryRequestID:            boundary,
		SummaryText:                  "summary of " + boundary,
		SummarizationRequestID:       "byok_history_summary_" + boundary,
		UpdatedAtMs:                  updatedAt,
		StartRequestID:               "r0",
		SummarizedUntilIndex:         3,
		SummarizedRequestIDsHash:     "hash-" + boundary,
		SummarizedTailRequestIDs:     models.StringList{"r1", "r2"},
		SummarizedTailHeadRequestIDs: models.StringList{"r3", "r4", "r5"},
	}
}

// TestSummaryCacheStore 测试摘要缓存的增删改查
func TestSummaryCacheStore(t *testing.T) {
	db := setupTestDB(t)
	store := NewSummaryCacheStore(db)
	ctx := context.Background()

	t.Run("SaveLoad", func(t *testing.T) {
		want := sampleEntry("c1", "r3", 200)
		if err := store.Save(ctx, want); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
		if err := store.Save(ctx, sampleEntry("c1", "r1", 100)); err != nil {
			t.Fatalf("写入失败: %v", err)
		}

		got, err := store.Load(ctx, "c1")
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("期望 2 条，实际 %d", len(got))
		}
		if got[0].BoundaryRequestID != "r1" {
			t.Errorf("应按更新时间升序，第一条为 %s", got[0].BoundaryRequestID)
		}
		if diff := cmp.Diff(want, got[1]); diff != "" {
			t.Errorf("读取结果不一致 (-want +got):\n%s", diff)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		e := sampleEntry("c1", "r3", 300)
		e.SummaryText = "updated"
		e.SummarizedTailRequestIDs = nil
		if err := store.Save(ctx, e); err != nil {
			t.Fatalf("覆盖写入失败: %v", err)
		}
		got, _ := store.Load(ctx, "c1")
		if len(got) != 2 {
			t.Fatalf("覆盖写入不应新增条目，实际 %d", len(got))
		}
		last := got[len(got)-1]
		if last.SummaryText != "updated" || last.UpdatedAtMs != 300 {
			t.Errorf("覆盖写入未生效: %+v", last)
		}
		if len(last.SummarizedTailRequestIDs) != 0 {
			t.Errorf("空列表应能写回，实际 %v", last.SummarizedTailRequestIDs)
		}
	})

	t.Run("DeleteEntry", func(t *testing.T) {
		if err := store.DeleteEntry(ctx, "c1", "r1"); err != nil {
			t.Fatalf("删除失败: %v", err)
		}
		got, _ := store.Load(ctx, "c1")
		if len(got) != 1 || got[0].BoundaryRequestID != "r3" {
			t.Errorf("只应删除指定条目，剩余 %+v", got)
		}
	})

	t.Run("DeleteAndClear", func(t *testing.T) {
		store.Save(ctx, sampleEntry("c2", "r1", 1))
		store.Save(ctx, sampleEntry("c3", "r1", 1))

		if err := store.Delete(ctx, "c2"); err != nil {
			t.Fatalf("删除会话失败: %v", err)
		}
		if got, _ := store.Load(ctx, "c2"); len(got) != 0 {
			t.Errorf("会话 c2 应已清空，实际 %d 条", len(got))
		}
		if got, _ := store.Load(ctx, "c3"); len(got) != 1 {
			t.Errorf("不应影响其他会话")
		}

		if err := store.Clear(ctx); err != nil {
			t.Fatalf("清空失败: %v", err)
		}
		n, err := store.CountEntries(ctx)
		if err != nil || n != 0 {
			t.Errorf("清空后应为 0 条，实际 %d (err=%v)", n, err)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		got, err := store.Load(ctx, "nope")
		if err != nil || len(got) != 0 {
			t.Errorf("不存在的会话应返回空列表: %v %v", got, err)
		}
	})
}

// TestSummaryCacheStore_WithCache 通过 historysummary.Cache 使用数据库存储
func TestSummaryCacheStore_WithCache(t *testing.T) {
	db := setupTestDB(t)
	cache := historysummary.NewCache(NewSummaryCacheStore(db), 2)
	ctx := context.Background()

	history := make([]models.Exchange, 6)
	for i := range history {
		history[i] = models.Exchange{RequestID: fmt.Sprintf("r%d", i), RequestMessage: "u", ResponseText: "a"}
	}
	dropped := history[:3]
	meta := historysummary.CacheMetadata{
		StartRequestID:           "r0",
		SummarizedUntilIndex:     3,
		SummarizedRequestIDsHash: historysummary.ComputeRequestIDsHash(dropped),
	}

	for i, boundary := range []string{"r1", "r2", "r3"} {
		if err := cache.Put(ctx, "c1", boundary, "s-"+boundary, "id-"+boundary, int64(1000+i), meta); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}

	entries := cache.Entries(ctx, "c1")
	if len(entries) != 2 {
		t.Fatalf("超过上限应淘汰最旧的条目，实际 %d 条", len(entries))
	}
	for _, e := range entries {
		if e.BoundaryRequestID == "r1" {
			t.Error("最旧的条目 r1 应被淘汰")
		}
	}

	if got := cache.GetFresh(ctx, "c1", "r3", 2000, 0, dropped); got == nil || got.SummaryText != "s-r3" {
		t.Errorf("应命中 r3 的缓存，实际 %+v", got)
	}
	if got := cache.GetFresh(ctx, "c1", "r3", 2000, 0, history[:2]); got != nil {
		t.Error("被摘要部分变化后不应命中")
	}
}

// TestSettings 测试运行时设置
func TestSettings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("GetDefault", func(t *testing.T) {
		settings, err := db.GetSettings(ctx)
		if err != nil {
			t.Fatalf("获取设置失败: %v", err)
		}
		if settings.HistorySummaryEnabled != nil || settings.HistorySummaryModel != nil {
			t.Errorf("未设置的项应为 nil: %+v", settings)
		}
	})

	t.Run("Update", func(t *testing.T) {
		enabled := true
		model := "  gpt-mini  "
		mode := "Ratio"
		updates := &models.SettingsUpdate{
			HistorySummaryEnabled:     &enabled,
			HistorySummaryModel:       &model,
			HistorySummaryTriggerMode: &mode,
		}
		if err := db.UpdateSettings(ctx, updates); err != nil {
			t.Fatalf("更新设置失败: %v", err)
		}

		settings, _ := db.GetSettings(ctx)
		if settings.HistorySummaryEnabled == nil || !*settings.HistorySummaryEnabled {
			t.Error("enabled 更新失败")
		}
		if settings.HistorySummaryModel == nil || *settings.HistorySummaryModel != "gpt-mini" {
			t.Errorf("model 更新失败: %v", settings.HistorySummaryModel)
		}
		if settings.HistorySummaryTriggerMode == nil || *settings.HistorySummaryTriggerMode != "ratio" {
			t.Errorf("触发策略应规整为小写: %v", settings.HistorySummaryTriggerMode)
		}

		// 再次写入同一项应覆盖
		disabled := false
		if err := db.UpdateSettings(ctx, &models.SettingsUpdate{HistorySummaryEnabled: &disabled}); err != nil {
			t.Fatalf("覆盖设置失败: %v", err)
		}
		settings, _ = db.GetSettings(ctx)
		if *settings.HistorySummaryEnabled {
			t.Error("覆盖写入未生效")
		}
	})

	t.Run("InvalidStrategy", func(t *testing.T) {
		mode := "tokens"
		if err := db.UpdateSettings(ctx, &models.SettingsUpdate{HistorySummaryTriggerMode: &mode}); err == nil {
			t.Error("无效的触发策略应返回错误")
		}
	})
}

func TestApplySettings(t *testing.T) {
	base := config.Load().HistorySummary
	base.Model = "file-model"
	base.ProviderID = "file-provider"

	if got := ApplySettings(base, nil); !cmp.Equal(got, base) {
		t.Error("nil 设置不应改变配置")
	}

	enabled := true
	rolling := false
	empty := ""
	provider := "db-provider"
	mode := "chars"
	got := ApplySettings(base, &models.Settings{
		HistorySummaryEnabled:     &enabled,
		HistorySummaryModel:       &empty,
		HistorySummaryProviderID:  &provider,
		HistorySummaryRolling:     &rolling,
		HistorySummaryTriggerMode: &mode,
	})
	if !got.Enabled || got.RollingSummary || got.TriggerStrategy != "chars" {
		t.Errorf("布尔与策略覆盖失败: %+v", got)
	}
	if got.Model != "file-model" {
		t.Errorf("空模型应视为未设置，实际 %s", got.Model)
	}
	if got.ProviderID != "db-provider" {
		t.Errorf("上游覆盖失败，实际 %s", got.ProviderID)
	}
	if base.Enabled {
		t.Error("不应修改传入的配置")
	}
}
