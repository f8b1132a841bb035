/*
 * @module service/governance/policy_store_test
 * @description 治理策略存储单元测试，基于内存SQLite
 * @architecture 测试层 - 单元测试
 */

package governance

import (
	"testing"
	"time"

	"streamhub-service/service/models"
	"streamhub-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var factory = testutil.NewTestDataFactory()

func newTestStore(t *testing.T) (*GormPolicyStore, *testutil.TestDB) {
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	return NewGormPolicyStore(tdb.DB, nil), tdb
}

// TestSavePolicyCreate 新策略创建后可按ID与名称找回
func TestSavePolicyCreate(t *testing.T) {
	store, _ := newTestStore(t)

	policy := factory.MakePolicy("phi-access")
	require.NoError(t, store.SavePolicy(policy))
	assert.NotEmpty(t, policy.ID, "创建时应生成UUID主键")

	loaded, err := store.GetPolicy(policy.ID)
	require.NoError(t, err)
	assert.Equal(t, "phi-access", loaded.Name)
	assert.Equal(t, "HIPAA", loaded.ComplianceTag)
	assert.Equal(t, 90, loaded.RetentionDays)
}

// TestSavePolicyUpsert 重名保存走更新路径，保留原ID与创建时间
func TestSavePolicyUpsert(t *testing.T) {
	store, _ := newTestStore(t)

	original := factory.MakePolicy("phi-retention")
	require.NoError(t, store.SavePolicy(original))
	originalID := original.ID

	updated := factory.MakePolicy("phi-retention")
	updated.RetentionDays = 365
	updated.AccessLevel = "restricted"
	require.NoError(t, store.SavePolicy(updated))

	assert.Equal(t, originalID, updated.ID, "更新不应更换主键")

	policies, err := store.ListPolicies()
	require.NoError(t, err)
	require.Len(t, policies, 1, "重名保存不应产生新记录")
	assert.Equal(t, 365, policies[0].RetentionDays)
	assert.Equal(t, "restricted", policies[0].AccessLevel)
}

// TestSavePolicyMissingName 缺少名称返回校验错误
func TestSavePolicyMissingName(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.SavePolicy(&models.GovernancePolicy{Owner: "someone"})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

// TestDeletePolicy 删除后不可再查，重复删除返回未找到
func TestDeletePolicy(t *testing.T) {
	store, _ := newTestStore(t)

	policy := factory.MakePolicy("to-delete")
	require.NoError(t, store.SavePolicy(policy))

	require.NoError(t, store.DeletePolicy(policy.ID))

	_, err := store.GetPolicy(policy.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	err = store.DeletePolicy(policy.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

// TestArchiveAndListReports 报告归档后可按管道查询，时间倒序
func TestArchiveAndListReports(t *testing.T) {
	store, _ := newTestStore(t)

	report := &models.QualityReport{
		PipelineID:    "patient-intake",
		OverallScore:  0.92,
		OverallStatus: models.QualityStatusGood,
		TotalRecords:  120,
		RulesPassed:   4,
		RulesFailed:   1,
		Timestamp:     time.Now(),
	}
	require.NoError(t, store.ArchiveReport(report))

	other := *report
	other.PipelineID = "billing-feed"
	require.NoError(t, store.ArchiveReport(&other))

	records, err := store.ListReports("patient-intake", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0.92, records[0].OverallScore)
	assert.Equal(t, models.QualityStatusGood, records[0].Status)
	assert.Equal(t, 120, records[0].TotalRecords)

	// 归档体中保留完整报告
	assert.Equal(t, "patient-intake", records[0].Report["pipeline_id"])

	all, err := store.ListReports("", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// TestListReportsLimit 查询数量受limit约束
func TestListReportsLimit(t *testing.T) {
	store, _ := newTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.ArchiveReport(&models.QualityReport{
			PipelineID:    "bulk",
			OverallScore:  1,
			OverallStatus: models.QualityStatusExcellent,
			Timestamp:     time.Now(),
		}))
	}

	records, err := store.ListReports("bulk", 3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

// TestPurgeExpiredReports 超过保留期的归档被清理
func TestPurgeExpiredReports(t *testing.T) {
	store, tdb := newTestStore(t)

	require.NoError(t, store.ArchiveReport(&models.QualityReport{
		PipelineID:    "fresh",
		OverallScore:  1,
		OverallStatus: models.QualityStatusExcellent,
		Timestamp:     time.Now(),
	}))
	require.NoError(t, store.ArchiveReport(&models.QualityReport{
		PipelineID:    "stale",
		OverallScore:  0.5,
		OverallStatus: models.QualityStatusPoor,
		Timestamp:     time.Now(),
	}))

	// 将其中一条归档时间回拨到保留期之外
	cutoff := time.Now().AddDate(0, 0, -100)
	require.NoError(t, tdb.DB.Model(&models.QualityReportRecord{}).
		Where("pipeline_id = ?", "stale").
		Update("created_at", cutoff).Error)

	purged, err := store.PurgeExpiredReports(90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	remaining, err := store.ListReports("", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "fresh", remaining[0].PipelineID)

	// 非法保留期不执行清理
	purged, err = store.PurgeExpiredReports(0)
	require.NoError(t, err)
	assert.Zero(t, purged)
}
