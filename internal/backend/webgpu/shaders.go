//go:build windows

package webgpu

// WGSL compute shaders. Using string constants instead of embed for simplicity.

// workgroupSize is the number of invocations per workgroup.
const workgroupSize = 256

const fillShader = `
@group(0) @binding(0) var<storage, read_write> x: array<f32>;

struct Params {
    size: u32,
    value: f32,
}
@group(0) @binding(1) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x < params.size) {
        x[gid.x] = params.value;
    }
}
`

const copyShader = `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x < params.size) {
        dst[gid.x] = src[gid.x];
    }
}
`

const expShader = `
@group(0) @binding(0) var<storage, read_write> x: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(1) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x < params.size) {
        x[gid.x] = exp(x[gid.x]);
    }
}
`

// addColumnwiseShader: out[r,c] = in[r,c] + alpha*colvec[c].
const addColumnwiseShader = `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read> colvec: array<f32>;
@group(0) @binding(2) var<storage, read_write> dst: array<f32>;

struct Params {
    rows: u32,
    cols: u32,
    alpha: f32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let idx = gid.x;
    if (idx < params.rows * params.cols) {
        dst[idx] = src[idx] + params.alpha * colvec[idx / params.rows];
    }
}
`

// addColumnwiseInPlaceShader is addColumnwiseShader with in == out, which
// WebGPU cannot bind twice.
const addColumnwiseInPlaceShader = `
@group(0) @binding(0) var<storage, read_write> x: array<f32>;
@group(0) @binding(1) var<storage, read> colvec: array<f32>;

struct Params {
    rows: u32,
    cols: u32,
    alpha: f32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let idx = gid.x;
    if (idx < params.rows * params.cols) {
        x[idx] = x[idx] + params.alpha * colvec[idx / params.rows];
    }
}
`

const divideColumnwiseShader = `
@group(0) @binding(0) var<storage, read_write> x: array<f32>;
@group(0) @binding(1) var<storage, read> colvec: array<f32>;

struct Params {
    rows: u32,
    cols: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let idx = gid.x;
    if (idx < params.rows * params.cols) {
        x[idx] = x[idx] / colvec[idx / params.rows];
    }
}
`

// maxColumnwiseShader: one invocation per column.
const maxColumnwiseShader = `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> peaks: array<f32>;

struct Params {
    rows: u32,
    cols: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let col = gid.x;
    if (col >= params.cols) {
        return;
    }
    let base = col * params.rows;
    var peak = src[base];
    for (var r = 1u; r < params.rows; r = r + 1u) {
        peak = max(peak, src[base + r]);
    }
    peaks[col] = peak;
}
`

const reluShader = `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x < params.size) {
        dst[gid.x] = max(src[gid.x], 0.0);
    }
}
`

const reluBackwardShader = `
@group(0) @binding(0) var<storage, read> values: array<f32>;
@group(0) @binding(1) var<storage, read> grad_in: array<f32>;
@group(0) @binding(2) var<storage, read_write> grad_out: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let idx = gid.x;
    if (idx < params.size) {
        grad_out[idx] = select(0.0, grad_in[idx], values[idx] > 0.0);
    }
}
`

// crossEntropyLossesShader: one invocation per column.
const crossEntropyLossesShader = `
@group(0) @binding(0) var<storage, read> pred: array<f32>;
@group(0) @binding(1) var<storage, read> truth: array<f32>;
@group(0) @binding(2) var<storage, read_write> losses: array<f32>;

struct Params {
    rows: u32,
    cols: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let col = gid.x;
    if (col >= params.cols) {
        return;
    }
    var loss = 0.0;
    for (var r = 0u; r < params.rows; r = r + 1u) {
        let idx = r + col * params.rows;
        if (truth[idx] == 1.0) {
            loss = -log(pred[idx]);
            break;
        }
    }
    losses[col] = loss;
}
`

const crossEntropyGradShader = `
@group(0) @binding(0) var<storage, read> pred: array<f32>;
@group(0) @binding(1) var<storage, read> truth: array<f32>;
@group(0) @binding(2) var<storage, read_write> grad: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x < params.size) {
        grad[gid.x] = pred[gid.x] - truth[gid.x];
    }
}
`

const axpyShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read_write> y: array<f32>;

struct Params {
    size: u32,
    alpha: f32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x < params.size) {
        y[gid.x] = y[gid.x] + params.alpha * x[gid.x];
    }
}
`

const scaleShader = `
@group(0) @binding(0) var<storage, read_write> x: array<f32>;

struct Params {
    size: u32,
    alpha: f32,
}
@group(0) @binding(1) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x < params.size) {
        x[gid.x] = params.alpha * x[gid.x];
    }
}
`

const mulShader = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x < params.size) {
        result[gid.x] = a[gid.x] * b[gid.x];
    }
}
`

// mulInPlaceShader: a *= b.
const mulInPlaceShader = `
@group(0) @binding(0) var<storage, read_write> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x < params.size) {
        a[gid.x] = a[gid.x] * b[gid.x];
    }
}
`

// maskShader draws a keep-mask from a PCG hash of (seed, index).
const maskShader = `
@group(0) @binding(0) var<storage, read_write> keep_mask: array<f32>;

struct Params {
    size: u32,
    keep: f32,
    seed_lo: u32,
    seed_hi: u32,
}
@group(0) @binding(1) var<uniform> params: Params;

fn pcg(v: u32) -> u32 {
    let state = v * 747796405u + 2891336453u;
    let word = ((state >> ((state >> 28u) + 4u)) ^ state) * 277803737u;
    return (word >> 22u) ^ word;
}

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let idx = gid.x;
    if (idx >= params.size) {
        return;
    }
    let h = pcg(idx ^ pcg(params.seed_lo ^ pcg(params.seed_hi)));
    let u = f32(h >> 8u) / 16777216.0;
    keep_mask[idx] = select(0.0, 1.0 / params.keep, u < params.keep);
}
`

// gemmShader: C = alpha*op(A)*op(B) + beta*C, column-major, one invocation
// per element of C.
const gemmShader = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> c: array<f32>;

struct Params {
    m: u32,
    n: u32,
    k: u32,
    lda: u32,
    ldb: u32,
    ldc: u32,
    trans_a: u32,
    trans_b: u32,
    alpha: f32,
    beta: f32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let idx = gid.x;
    if (idx >= params.m * params.n) {
        return;
    }
    let i = idx % params.m;
    let j = idx / params.m;
    var acc = 0.0;
    for (var q = 0u; q < params.k; q = q + 1u) {
        var av: f32;
        if (params.trans_a == 0u) {
            av = a[i + q * params.lda];
        } else {
            av = a[q + i * params.lda];
        }
        var bv: f32;
        if (params.trans_b == 0u) {
            bv = b[q + j * params.ldb];
        } else {
            bv = b[j + q * params.ldb];
        }
        acc = acc + av * bv;
    }
    let ci = i + j * params.ldc;
    c[ci] = params.alpha * acc + select(params.beta * c[ci], 0.0, params.beta == 0.0);
}
`

// gemvShader: y = alpha*op(A)*x + beta*y for an m×n column-major A.
const gemvShader = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> x: array<f32>;
@group(0) @binding(2) var<storage, read_write> y: array<f32>;

struct Params {
    m: u32,
    n: u32,
    lda: u32,
    trans_a: u32,
    alpha: f32,
    beta: f32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let idx = gid.x;
    var acc = 0.0;
    if (params.trans_a == 0u) {
        if (idx >= params.m) {
            return;
        }
        for (var j = 0u; j < params.n; j = j + 1u) {
            acc = acc + a[idx + j * params.lda] * x[j];
        }
    } else {
        if (idx >= params.n) {
            return;
        }
        for (var i = 0u; i < params.m; i = i + 1u) {
            acc = acc + a[i + idx * params.lda] * x[i];
        }
    }
    y[idx] = params.alpha * acc + select(params.beta * y[idx], 0.0, params.beta == 0.0);
}
`

// convParams is shared by the three convolution shaders. Images are NHWC,
// n_filters are K × (FH*FW*C) column-major.
const convParams = `
struct Params {
    batch: u32,
    chans: u32,
    in_h: u32,
    in_w: u32,
    n_filters: u32,
    f_h: u32,
    f_w: u32,
    out_h: u32,
    out_w: u32,
    pad_h: u32,
    pad_w: u32,
    stride_h: u32,
    stride_w: u32,
    alpha: f32,
    beta: f32,
}
`

// convForwardShader: one invocation per output element.
const convForwardShader = `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read> weights: array<f32>;
@group(0) @binding(2) var<storage, read_write> dst: array<f32>;
` + convParams + `
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let p = params;
    let idx = gid.x;
    if (idx >= p.batch * p.out_h * p.out_w * p.n_filters) {
        return;
    }
    let k = idx % p.n_filters;
    let pix = idx / p.n_filters;
    let ox = pix % p.out_w;
    let oy = (pix / p.out_w) % p.out_h;
    let img = pix / (p.out_w * p.out_h);

    var acc = 0.0;
    for (var fy = 0u; fy < p.f_h; fy = fy + 1u) {
        let iy = i32(oy * p.stride_h + fy) - i32(p.pad_h);
        if (iy < 0 || iy >= i32(p.in_h)) {
            continue;
        }
        for (var fx = 0u; fx < p.f_w; fx = fx + 1u) {
            let ix = i32(ox * p.stride_w + fx) - i32(p.pad_w);
            if (ix < 0 || ix >= i32(p.in_w)) {
                continue;
            }
            let in_base = ((img * p.in_h + u32(iy)) * p.in_w + u32(ix)) * p.chans;
            let w_base = (fy * p.f_w + fx) * p.chans;
            for (var ch = 0u; ch < p.chans; ch = ch + 1u) {
                acc = acc + src[in_base + ch] * weights[k + p.n_filters * (w_base + ch)];
            }
        }
    }
    dst[idx] = p.alpha * acc + select(p.beta * dst[idx], 0.0, p.beta == 0.0);
}
`

// convBackwardFilterShader: one invocation per filter weight.
const convBackwardFilterShader = `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read> grad: array<f32>;
@group(0) @binding(2) var<storage, read_write> dw: array<f32>;
` + convParams + `
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let p = params;
    let idx = gid.x;
    if (idx >= p.n_filters * p.f_h * p.f_w * p.chans) {
        return;
    }
    let k = idx % p.n_filters;
    let rest = idx / p.n_filters;
    let ch = rest % p.chans;
    let tap = rest / p.chans;
    let fx = tap % p.f_w;
    let fy = tap / p.f_w;

    var acc = 0.0;
    for (var img = 0u; img < p.batch; img = img + 1u) {
        for (var oy = 0u; oy < p.out_h; oy = oy + 1u) {
            let iy = i32(oy * p.stride_h + fy) - i32(p.pad_h);
            if (iy < 0 || iy >= i32(p.in_h)) {
                continue;
            }
            for (var ox = 0u; ox < p.out_w; ox = ox + 1u) {
                let ix = i32(ox * p.stride_w + fx) - i32(p.pad_w);
                if (ix < 0 || ix >= i32(p.in_w)) {
                    continue;
                }
                let g = grad[((img * p.out_h + oy) * p.out_w + ox) * p.n_filters + k];
                acc = acc + g * src[((img * p.in_h + u32(iy)) * p.in_w + u32(ix)) * p.chans + ch];
            }
        }
    }
    dw[idx] = p.alpha * acc + select(p.beta * dw[idx], 0.0, p.beta == 0.0);
}
`

// convBackwardDataShader: one invocation per input element.
const convBackwardDataShader = `
@group(0) @binding(0) var<storage, read> weights: array<f32>;
@group(0) @binding(1) var<storage, read> grad: array<f32>;
@group(0) @binding(2) var<storage, read_write> dx: array<f32>;
` + convParams + `
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let p = params;
    let idx = gid.x;
    if (idx >= p.batch * p.in_h * p.in_w * p.chans) {
        return;
    }
    let ch = idx % p.chans;
    let pix = idx / p.chans;
    let ix = pix % p.in_w;
    let iy = (pix / p.in_w) % p.in_h;
    let img = pix / (p.in_w * p.in_h);

    var acc = 0.0;
    for (var fy = 0u; fy < p.f_h; fy = fy + 1u) {
        let ty = i32(iy + p.pad_h) - i32(fy);
        if (ty < 0 || ty % i32(p.stride_h) != 0) {
            continue;
        }
        let oy = u32(ty) / p.stride_h;
        if (oy >= p.out_h) {
            continue;
        }
        for (var fx = 0u; fx < p.f_w; fx = fx + 1u) {
            let tx = i32(ix + p.pad_w) - i32(fx);
            if (tx < 0 || tx % i32(p.stride_w) != 0) {
                continue;
            }
            let ox = u32(tx) / p.stride_w;
            if (ox >= p.out_w) {
                continue;
            }
            let g_base = ((img * p.out_h + oy) * p.out_w + ox) * p.n_filters;
            let w_base = (fy * p.f_w + fx) * p.chans + ch;
            for (var k = 0u; k < p.n_filters; k = k + 1u) {
                acc = acc + grad[g_base + k] * weights[k + p.n_filters * w_base];
            }
        }
    }
    dx[idx] = p.alpha * acc + select(p.beta * dx[idx], 0.0, p.beta == 0.0);
}
`
