// Package querysource feeds database activity into the current query
// counter.
//
// GormPlugin wraps a gorm.DB's logger so every traced statement is reported
// with its alias, explained SQL and elapsed time. RedisHook does the same
// for go-redis commands. Both drop events silently when the statement's
// context carries no open counter, so they are safe to install globally,
// including for startup migrations.
//
//	db.Use(querysource.NewGormPlugin("default", logger))
//	rdb.AddHook(querysource.NewRedisHook("cache", logger))
package querysource
