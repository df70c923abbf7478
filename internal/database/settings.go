package database

import (
	"context"
	"fmt"
	"strings"

	"byok-api/internal/config"
	"byok-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 设置项键名
const (
	settingDebugLog               = "debug_log"
	settingHistorySummaryEnabled  = "history_summary_enabled"
	settingHistorySummaryModel    = "history_summary_model"
	settingHistorySummaryProvider = "history_summary_provider_id"
	settingHistorySummaryRolling  = "history_summary_rolling"
	settingHistorySummaryStrategy = "history_summary_trigger_strategy"
)

// validTriggerStrategies 允许写入的触发策略
var validTriggerStrategies = map[string]bool{
	"auto":  true,
	"chars": true,
	"ratio": true,
}

// GetSettings 获取运行时设置，未设置的项保持 nil
func (db *DB) GetSettings(ctx context.Context) (*models.Settings, error) {
	settings := &models.Settings{}

	var settingsList []models.Setting
	if err := db.gorm.WithContext(ctx).Find(&settingsList).Error; err != nil {
		return settings, err
	}

	for _, s := range settingsList {
		v := s.Value
		switch s.Key {
		case settingDebugLog:
			settings.DebugLog = v == "true"
		case settingHistorySummaryEnabled:
			b := v == "true"
			settings.HistorySummaryEnabled = &b
		case settingHistorySummaryModel:
			settings.HistorySummaryModel = &v
		case settingHistorySummaryProvider:
			settings.HistorySummaryProviderID = &v
		case settingHistorySummaryRolling:
			b := v == "true"
			settings.HistorySummaryRolling = &b
		case settingHistorySummaryStrategy:
			if v != "" {
				settings.HistorySummaryTriggerMode = &v
			}
		}
	}

	return settings, nil
}

// UpdateSettings 更新运行时设置
func (db *DB) UpdateSettings(ctx context.Context, updates *models.SettingsUpdate) error {
	if updates.HistorySummaryTriggerMode != nil {
		mode := strings.ToLower(strings.TrimSpace(*updates.HistorySummaryTriggerMode))
		if !validTriggerStrategies[mode] {
			return fmt.Errorf("无效的触发策略: %s", *updates.HistorySummaryTriggerMode)
		}
		updates.HistorySummaryTriggerMode = &mode
	}

	return db.RetryOnLock(ctx, sqliteWriteRetries, func() error {
		return db.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			upsertSetting := func(key, value string) error {
				setting := models.Setting{Key: key, Value: value}
				return tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "setting_key"}},
					DoUpdates: clause.AssignmentColumns([]string{"setting_value"}),
				}).Create(&setting).Error
			}

			if updates.DebugLog != nil {
				if err := upsertSetting(settingDebugLog, boolToString(*updates.DebugLog)); err != nil {
					return err
				}
			}
			if updates.HistorySummaryEnabled != nil {
				if err := upsertSetting(settingHistorySummaryEnabled, boolToString(*updates.HistorySummaryEnabled)); err != nil {
					return err
				}
			}
			if updates.HistorySummaryModel != nil {
				if err := upsertSetting(settingHistorySummaryModel, strings.TrimSpace(*updates.HistorySummaryModel)); err != nil {
					return err
				}
			}
			if updates.HistorySummaryProviderID != nil {
				if err := upsertSetting(settingHistorySummaryProvider, strings.TrimSpace(*updates.HistorySummaryProviderID)); err != nil {
					return err
				}
			}
			if updates.HistorySummaryRolling != nil {
				if err := upsertSetting(settingHistorySummaryRolling, boolToString(*updates.HistorySummaryRolling)); err != nil {
					return err
				}
			}
			if updates.HistorySummaryTriggerMode != nil {
				if err := upsertSetting(settingHistorySummaryStrategy, *updates.HistorySummaryTriggerMode); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// ApplySettings 用运行时设置覆盖配置文件中的历史摘要配置，返回副本
// 空字符串的模型与上游设置视为未设置
func ApplySettings(hs config.HistorySummaryConfig, s *models.Settings) config.HistorySummaryConfig {
	if s == nil {
		return hs
	}
	if s.HistorySummaryEnabled != nil {
		hs.Enabled = *s.HistorySummaryEnabled
	}
	if s.HistorySummaryModel != nil && strings.TrimSpace(*s.HistorySummaryModel) != "" {
		hs.Model = strings.TrimSpace(*s.HistorySummaryModel)
	}
	if s.HistorySummaryProviderID != nil && strings.TrimSpace(*s.HistorySummaryProviderID) != "" {
		hs.ProviderID = strings.TrimSpace(*s.HistorySummaryProviderID)
	}
	if s.HistorySummaryRolling != nil {
		hs.RollingSummary = *s.HistorySummaryRolling
	}
	if s.HistorySummaryTriggerMode != nil && *s.HistorySummaryTriggerMode != "" {
		hs.TriggerStrategy = *s.HistorySummaryTriggerMode
	}
	return hs
}

func boolToString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
