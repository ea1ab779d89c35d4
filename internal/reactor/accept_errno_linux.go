/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:build linux

package reactor

import "golang.org/x/sys/unix"

// acceptRetryErrnos are failures of one pending connection that accept(2)
// passes up on Linux. The next accept can succeed.
var acceptRetryErrnos = []unix.Errno{
	unix.EINTR, unix.ECONNABORTED, unix.EPROTO, unix.EPERM,
	unix.ENETDOWN, unix.ENETUNREACH, unix.EHOSTDOWN, unix.EHOSTUNREACH,
	unix.ENOPROTOOPT, unix.EOPNOTSUPP, unix.ENONET, unix.ETIMEDOUT,
}
