package db

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestApplyPoolSettings(t *testing.T) {
	assert := assert.New(t)
	db, _, err := sqlmock.New()
	assert.NoError(err)
	defer db.Close()

	applyPoolSettings(db, PoolSettings{
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	})
	assert.Equal(4, db.Stats().MaxOpenConnections)
}

func TestApplyPoolSettingsZeroValuesLeaveDefaults(t *testing.T) {
	assert := assert.New(t)
	db, _, err := sqlmock.New()
	assert.NoError(err)
	defer db.Close()

	applyPoolSettings(db, PoolSettings{})
	assert.Equal(0, db.Stats().MaxOpenConnections, "an unset bound leaves the pool unlimited")
}
