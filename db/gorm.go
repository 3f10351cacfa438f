package db

import (
	"fmt"
	"time"

	"Boombot/config"
	"Boombot/logger"
	"Boombot/model"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormDB is the request history database, nil when MySQL is not configured.
var GormDB *gorm.DB

// DSN builds the MySQL connection string from cfg.
func DSN(cfg *config.Config) string {
	dc := mysqldriver.NewConfig()
	dc.User = cfg.DBUser
	dc.Passwd = cfg.DBPassword
	dc.Net = "tcp"
	dc.Addr = fmt.Sprintf("%s:%s", cfg.DBHost, cfg.DBPort)
	dc.DBName = cfg.DBName
	dc.ParseTime = true
	dc.Loc = time.Local
	dc.Params = map[string]string{"charset": "utf8mb4"}
	return dc.FormatDSN()
}

// ConnectGormDB opens the database and configures the connection pool.
func ConnectGormDB(cfg *config.Config) error {
	db, err := gorm.Open(mysql.Open(DSN(cfg)), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Warn),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	GormDB = db
	logger.Info("[DB] connected",
		logger.String("host", cfg.DBHost),
		logger.String("database", cfg.DBName))
	return nil
}

// CloseGormDB closes the database connection.
func CloseGormDB() error {
	if GormDB == nil {
		return nil
	}

	sqlDB, err := GormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate creates or updates the request history schema.
func AutoMigrate() error {
	if GormDB == nil {
		return fmt.Errorf("GORM database not initialized")
	}
	if err := GormDB.AutoMigrate(&model.RequestRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	logger.Info("[DB] schema migrated")
	return nil
}
