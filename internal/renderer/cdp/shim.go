package cdp

// BindingName is the CDP runtime binding the content shim calls into.
const BindingName = "__neonNative"

// shimScript installs window.Android, the call surface content expects, on top
// of the binding. Readiness queries cannot block on the native side, so they
// answer from the last known value and refresh it in the background.
const shimScript = `(function () {
  if (window.Android || typeof window.__neonNative !== 'function') return;
  var seq = 0;
  var pending = {};
  var ready = { isAdReady: false, isRewardedAdReady: false };

  function call(fn, args) {
    var id = ++seq;
    var p = new Promise(function (resolve, reject) {
      pending[id] = { resolve: resolve, reject: reject };
    });
    window.__neonNative(JSON.stringify({ id: id, fn: fn, args: args || [] }));
    return p;
  }

  function fire(fn, args) {
    call(fn, args).catch(function (err) { console.warn('native ' + fn + ': ' + err.message); });
  }

  function query(fn) {
    call(fn).then(function (v) { ready[fn] = !!v; }, function () {});
    return ready[fn];
  }

  window.__neonReply = function (r) {
    var p = pending[r.id];
    if (!p) return;
    delete pending[r.id];
    if (r.error) p.reject(new Error(r.error)); else p.resolve(r.result);
  };

  window.Android = {
    vibrate: function (ms) { fire('vibrate', [ms]); },
    showInterstitial: function () { fire('showInterstitial'); },
    showRewardedAd: function () { fire('showRewardedAd'); },
    showRewardedAdForContinue: function () { fire('showRewardedAdForContinue'); },
    isAdReady: function () { return query('isAdReady'); },
    isRewardedAdReady: function () { return query('isRewardedAdReady'); },
    signInWithGoogle: function () { fire('signInWithGoogle'); },
    signOut: function () { fire('signOut'); }
  };
  window.NeonNative = { call: call };
})();`
