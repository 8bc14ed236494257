package redis

import (
	"strings"
	"time"

	"github.com/go-redis/redis"
)

type _client struct {
	cli *redis.Client
}

var clientMap map[string]_client

func init() {
	clientMap = make(map[string]_client)
	Init("default", "127.0.0.1:6379", "")
}

// Init 初始化指定名称的Redis连接.
func Init(dbName string, host string, password string) error {
	hostSlice := strings.Split(host, ",")
	client := redis.NewClient(&redis.Options{
		Addr:     hostSlice[0],
		Password: password,
		DB:       0,
	})
	_, err := client.Ping().Result()
	if err != nil {
		return err
	}
	clientMap[dbName] = _client{cli: client}
	return nil
}

// Handler Redis操作句柄.
type Handler struct {
	client            *redis.Client
	DefaultExpiration time.Duration
}

// NewRedisHandler 创建Redis操作句柄.
func NewRedisHandler(db string) *Handler {
	handler := &Handler{DefaultExpiration: time.Hour * 24}
	handler.client = Client(db)
	return handler
}

// Client 获取底层Redis客户端.
func Client(db string) *redis.Client {
	return clientMap[db].cli
}

// Expire 设置默认过期时间.
func (rh *Handler) Expire(expiration time.Duration) {
	rh.DefaultExpiration = expiration
}

// Set 写入键值，使用默认过期时间.
func (rh *Handler) Set(key string, value interface{}) {
	_ = rh.client.Set(key, value, rh.DefaultExpiration).Err()
}

// SetWithExpireTime 写入键值并指定过期时间.
func (rh *Handler) SetWithExpireTime(key string, value string, expiry time.Duration) {
	_ = rh.client.Set(key, value, expiry).Err()
}

// AcquireLock 基于SETNX获取分布式锁.
// 换班接受等需要对(排班表,时间窗口)互斥的写操作先取锁再开事务.
func (rh *Handler) AcquireLock(key string, value string, expiry time.Duration) (isSuccess bool, err error) {
	isSuccess, err = rh.client.SetNX(key, value, expiry).Result()
	if err != nil {
		return
	}
	return
}

// Get 读取键值，键不存在返回空串.
func (rh *Handler) Get(key string) string {
	val, err := rh.client.Get(key).Result()
	if err != nil {
		return ""
	}
	return val
}

// Delete 删除键.
func (rh *Handler) Delete(key string) {
	rh.client.Del(key)
}

// Exist 判断键是否存在.
func (rh *Handler) Exist(key string) (flag bool) {
	count, err := rh.client.Exists(key).Result()
	if err != nil {
		return
	}
	if count != 0 {
		flag = true
	}
	return
}

// ScanKeys 使用 Redis SCAN 命令迭代查找匹配的键，避免阻塞服务器.
func (rh *Handler) ScanKeys(pattern string) ([]string, error) {
	var cursor uint64
	var keys []string
	var err error

	for {
		var currentKeys []string
		currentKeys, cursor, err = rh.client.Scan(cursor, pattern, 10).Result()
		if err != nil {
			return nil, err
		}

		keys = append(keys, currentKeys...)

		if cursor == 0 {
			break
		}
	}

	return keys, nil
}
