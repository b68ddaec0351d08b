package job

import (
	stdErrors "errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	// 注册 database/sql 驱动 "pgx"。
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect 屏蔽 MySQL 与 PostgreSQL 在占位符和错误码上的差异。
type Dialect struct {
	// Name 同时是迁移文件所在的子目录。
	Name       string
	DriverName string
	numbered   bool
	unique     func(error) bool
}

var (
	// MySQL 使用 go-sql-driver/mysql。
	MySQL = Dialect{
		Name:       "mysql",
		DriverName: "mysql",
		unique: func(err error) bool {
			var mysqlErr *mysql.MySQLError
			return stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062
		},
	}
	// Postgres 使用 pgx 的 database/sql 适配层。
	Postgres = Dialect{
		Name:       "postgres",
		DriverName: "pgx",
		numbered:   true,
		unique: func(err error) bool {
			var pgErr *pgconn.PgError
			return stdErrors.As(err, &pgErr) && pgErr.Code == "23505"
		},
	}
)

// DialectByName 按配置中的驱动名返回方言。
func DialectByName(name string) (Dialect, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql":
		return MySQL, true
	case "postgres", "postgresql", "pgx":
		return Postgres, true
	}
	return Dialect{}, false
}

// Rebind 把 ? 占位符改写为方言需要的形式。
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d Dialect) isUniqueViolation(err error) bool {
	return d.unique != nil && d.unique(err)
}
