package admin

// fastParams: дешёвые параметры Argon2id, чтобы тесты не тратили 64 МБ на хеш.
var fastParams = hashParams{memory: 1024, iterations: 1, parallelism: 1, saltLen: 16, keyLen: 32}

// HashForTest хеширует пароль с дешёвыми параметрами.
func HashForTest(password string) (string, error) {
	return hashPassword(password, fastParams)
}
