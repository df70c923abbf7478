package models

// Setting 表示数据库中的键值对设置
// 注意：使用 setting_key 而不是 key，因为 key 是 MySQL 保留字
type Setting struct {
	Key   string `gorm:"column:setting_key;primaryKey;size:100" json:"key"`
	Value string `gorm:"column:setting_value;type:text" json:"value"`
}

// TableName 指定表名
func (Setting) TableName() string {
	return "settings"
}

// Settings 运行时设置（用于 API 响应）
// 指针字段为 nil 表示未设置，沿用配置文件中的值
type Settings struct {
	DebugLog                  bool    `json:"debugLog"`
	HistorySummaryEnabled     *bool   `json:"historySummaryEnabled"`
	HistorySummaryModel       *string `json:"historySummaryModel"`
	HistorySummaryProviderID  *string `json:"historySummaryProviderId"`
	HistorySummaryRolling     *bool   `json:"historySummaryRolling"`
	HistorySummaryTriggerMode *string `json:"historySummaryTriggerStrategy"`
}

// SettingsUpdate 表示设置更新请求
type SettingsUpdate struct {
	DebugLog                  *bool   `json:"debugLog"`
	HistorySummaryEnabled     *bool   `json:"historySummaryEnabled"`
	HistorySummaryModel       *string `json:"historySummaryModel"`
	HistorySummaryProviderID  *string `json:"historySummaryProviderId"`
	HistorySummaryRolling     *bool   `json:"historySummaryRolling"`
	HistorySummaryTriggerMode *string `json:"historySummaryTriggerStrategy"`
}
