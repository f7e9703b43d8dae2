package config

import (
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type WebConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

type DBConfig struct {
	Type     string `yaml:"type" json:"type" envconfig:"CHATSHOP_DB_TYPE"`
	Host     string `yaml:"host" json:"host" envconfig:"CHATSHOP_DB_HOST"`
	Port     int    `yaml:"port" json:"port" envconfig:"CHATSHOP_DB_PORT"`
	Name     string `yaml:"name" json:"name" envconfig:"CHATSHOP_DB_NAME"`
	User     string `yaml:"user" json:"user" envconfig:"CHATSHOP_DB_USER"`
	Passwd   string `yaml:"passwd" json:"passwd" envconfig:"CHATSHOP_DB_PASSWD"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
	IdleConn int    `yaml:"idle_conn" json:"idle_conn"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

// PaymentConfig holds the external crypto payment provider settings.
type PaymentConfig struct {
	ApiUrl      string `yaml:"api_url" json:"api_url"`
	ApiKey      string `yaml:"api_key" json:"api_key" envconfig:"CHATSHOP_PAYMENT_API_KEY"`
	CallbackUrl string `yaml:"callback_url" json:"callback_url"`
	Timeout     int    `yaml:"timeout" json:"timeout"`
}

type AppConfig struct {
	System   SysConfig     `yaml:"system" json:"system"`
	Web      WebConfig     `yaml:"web" json:"web"`
	Database DBConfig      `yaml:"database" json:"database"`
	Logger   LogConfig     `yaml:"logger" json:"logger"`
	Payment  PaymentConfig `yaml:"payment" json:"payment"`
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "chatshop",
		Location: "UTC",
		Workdir:  "/var/chatshop",
		Debug:    true,
	},
	Web: WebConfig{
		Host: "0.0.0.0",
		Port: 1980,
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "chatshop",
		User:     "postgres",
		MaxConn:  100,
		IdleConn: 10,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/chatshop/chatshop.log",
	},
	Payment: PaymentConfig{
		ApiUrl:      "https://api.nowpayments.io/v1",
		CallbackUrl: "http://127.0.0.1:1980/payment/notify",
		Timeout:     10,
	},
}

// LoadConfig reads the YAML config file and applies environment overrides.
// A missing file is not an error: defaults plus environment are used.
func LoadConfig(cfile string) *AppConfig {
	cfg := *DefaultAppConfig
	if cfile != "" {
		if data, err := os.ReadFile(filepath.Clean(cfile)); err == nil {
			_ = yaml.Unmarshal(data, &cfg)
		}
	}
	_ = envconfig.Process("chatshop", &cfg)
	return &cfg
}
